package descriptor

import "testing"

func TestRegisterClassAndLookup(t *testing.T) {
	r := NewRegistry()
	id, err := r.RegisterClass("Book", []PropertyDesc{
		{Name: "Title", Kind: PropString},
		{Name: "Author", Kind: PropString},
	})
	if err != nil {
		t.Fatalf("RegisterClass: %v", err)
	}

	c, err := r.Class(id)
	if err != nil {
		t.Fatalf("Class: %v", err)
	}
	if c.Name != "Book" {
		t.Fatalf("Name = %q, want Book", c.Name)
	}
	if _, ok := c.PropertyByName("Title"); !ok {
		t.Fatalf("expected Title property")
	}

	byName, err := r.ClassByName("Book")
	if err != nil || byName.ID != id {
		t.Fatalf("ClassByName mismatch: %v, %+v", err, byName)
	}
}

func TestRegisterClassDuplicateName(t *testing.T) {
	r := NewRegistry()
	if _, err := r.RegisterClass("Book", nil); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if _, err := r.RegisterClass("Book", nil); err == nil {
		t.Fatalf("expected duplicate-name error")
	}
}

func TestNextObjectIDIncrementsWithinClass(t *testing.T) {
	r := NewRegistry()
	id, _ := r.RegisterClass("Book", nil)

	o1, err := r.NextObjectID(id)
	if err != nil {
		t.Fatalf("NextObjectID: %v", err)
	}
	o2, _ := r.NextObjectID(id)
	if o1.Class() != id || o2.Class() != id {
		t.Fatalf("allocated ids should carry the owning class")
	}
	if o2.Sequence() <= o1.Sequence() {
		t.Fatalf("sequence should be strictly increasing")
	}
}

func TestDeclareIndexDuplicateName(t *testing.T) {
	r := NewRegistry()
	id, _ := r.RegisterClass("Book", []PropertyDesc{{Name: "Title", Kind: PropString}})
	if err := r.DeclareIndex(id, IndexDesc{Name: "by_title", Property: "Title", Kind: IndexHash}); err != nil {
		t.Fatalf("first DeclareIndex: %v", err)
	}
	if err := r.DeclareIndex(id, IndexDesc{Name: "by_title", Property: "Title", Kind: IndexSorted}); err == nil {
		t.Fatalf("expected duplicate index name to fail")
	}
}

func TestAssemblyUpdateIdempotent(t *testing.T) {
	m := NewAssemblyManager()
	first := m.Current().VersionGUID

	res := m.Update(map[string][]byte{"biz": []byte("v1")}, NewRegistry())
	if !res.Changed {
		t.Fatalf("first update with non-empty diff should report Changed")
	}
	if res.VersionGUID == first {
		t.Fatalf("version GUID should change on a real update")
	}
	afterFirst := res.VersionGUID

	// Re-applying the same assemblies is a no-op.
	res2 := m.Update(map[string][]byte{"biz": []byte("v1")}, NewRegistry())
	if res2.Changed {
		t.Fatalf("re-applying identical assemblies should not report Changed")
	}
	if res2.VersionGUID != afterFirst {
		t.Fatalf("version GUID must not change on a no-op update")
	}
}
