package admin

import (
	"context"
	"encoding/json"

	"github.com/heliumdb/helium/internal/errs"
	"github.com/heliumdb/helium/internal/persist"
	"github.com/heliumdb/helium/internal/replication"
	"github.com/heliumdb/helium/internal/rpc"
	"github.com/heliumdb/helium/internal/telemetry"
)

// Service names registered against internal/rpc.Registry, matching
// spec.md §4.9's three administration service groups.
const (
	ServiceNodeAdministration             = "NodeAdministration"
	ServiceLocalWriteClusterAdministration = "LocalWriteClusterAdministration"
	ServiceDatabaseAdministration         = "DatabaseAdministration"
)

// RegisterRPC installs every admin operation as a JSON-payload RPC
// handler on registry, so a peer node or the bind-mode CLI can invoke
// administration over the same chunked RPC transport internal/rpc
// implements for ordinary reads and writes (spec.md §4.5, §4.9).
func RegisterRPC(registry *rpc.Registry, svc *Service) {
	registry.Register(ServiceNodeAdministration+".GetNodeState", jsonHandler(func(ctx context.Context, _ struct{}) (NodeState, error) {
		return svc.GetNodeState(), nil
	}))

	registry.Register(ServiceNodeAdministration+".SetTraceLevel", jsonHandler(func(ctx context.Context, req traceLevelRequest) (struct{}, error) {
		svc.SetTraceLevel(telemetry.Level(req.Level))
		return struct{}{}, nil
	}))

	registry.Register(ServiceNodeAdministration+".SetUserTraceLevel", jsonHandler(func(ctx context.Context, req userTraceLevelRequest) (struct{}, error) {
		svc.SetUserTraceLevel(req.Component, telemetry.Level(req.Level))
		return struct{}{}, nil
	}))

	registry.Register(ServiceLocalWriteClusterAdministration+".BecomePrimary", jsonHandler(func(ctx context.Context, req becomePrimaryRequest) (struct{}, error) {
		peer := replication.PeerView{Reachable: req.PeerReachable, ConfirmsSelfAsPrimary: req.PeerConfirmsSelfAsPrimary}
		return struct{}{}, svc.BecomePrimary(ctx, peer)
	}))

	registry.Register(ServiceLocalWriteClusterAdministration+".BecomeStandby", jsonHandler(func(ctx context.Context, _ struct{}) (struct{}, error) {
		svc.BecomeStandby()
		return struct{}{}, nil
	}))

	registry.Register(ServiceDatabaseAdministration+".BecomePrimarySite", jsonHandler(func(ctx context.Context, req becomePrimarySiteRequest) (struct{}, error) {
		return struct{}{}, svc.BecomePrimarySite(req.Force)
	}))

	registry.Register(ServiceDatabaseAdministration+".BecomeStandbySite", jsonHandler(func(ctx context.Context, _ struct{}) (struct{}, error) {
		svc.BecomeStandbySite()
		return struct{}{}, nil
	}))

	registry.Register(ServiceDatabaseAdministration+".GetClusterConfiguration", jsonHandler(func(ctx context.Context, _ struct{}) (interface{}, error) {
		local, global, err := svc.GetClusterConfiguration()
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"local": local, "global": global}, nil
	}))

	registry.Register(ServiceDatabaseAdministration+".DeclarePersistenceDescriptor", jsonHandler(func(ctx context.Context, cfg persist.StreamConfig) (struct{}, error) {
		return struct{}{}, svc.DeclarePersistenceDescriptor(cfg)
	}))

	registry.Register(ServiceDatabaseAdministration+".UpdateAssemblies", jsonHandler(func(ctx context.Context, req updateAssembliesRequest) (UpdateAssembliesResult, error) {
		raw := make(map[string][]byte, len(req.Assemblies))
		for name, body := range req.Assemblies {
			raw[name] = []byte(body)
		}
		return svc.UpdateAssemblies(raw, svc.Assemblies.Current().Registry), nil
	}))

	registry.Register(ServiceDatabaseAdministration+".GetAssemblies", jsonHandler(func(ctx context.Context, _ struct{}) (map[string]string, error) {
		return svc.GetAssemblies(), nil
	}))
}

// jsonHandler adapts a typed (request, response) function to
// rpc.Handler's raw-bytes signature: decode the JSON payload into Req,
// call fn, and encode its result back to JSON. Mirrors the teacher's
// encoding/json use at the HTTP layer, carried down into the RPC
// layer since spec.md's wire protocol is bespoke chunked framing, not
// a schema'd RPC IDL.
func jsonHandler[Req any, Resp any](fn func(ctx context.Context, req Req) (Resp, error)) rpc.Handler {
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		var req Req
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &req); err != nil {
				return nil, errs.Wrap(errs.KindInvalidArgument, "", "decode rpc request", err)
			}
		}
		resp, err := fn(ctx, req)
		if err != nil {
			return nil, err
		}
		out, err := json.Marshal(resp)
		if err != nil {
			return nil, errs.Wrap(errs.KindInvalidArgument, "", "encode rpc response", err)
		}
		return out, nil
	}
}
