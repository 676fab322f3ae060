package store

import (
	"context"
	"errors"
	"testing"

	"github.com/roach88/relfill/internal/ir"
)

func TestFindByKey(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	post := mustCreate(t, s, "Post", ir.IRObject{
		"title":     ir.IRString("hello"),
		"views":     ir.IRInt(3),
		"published": ir.IRBool(true),
	})

	got, err := s.FindByKey(ctx, typeOf(t, s, "Post"), post.Key)
	if err != nil {
		t.Fatalf("FindByKey() failed: %v", err)
	}
	if got.Type != "Post" || got.Key != post.Key {
		t.Errorf("FindByKey() = %s, want %s", got, post)
	}
	want := ir.IRObject{
		"title":     ir.IRString("hello"),
		"views":     ir.IRInt(3),
		"published": ir.IRBool(true),
		"author_id": ir.IRNull{},
	}
	if !ir.Equal(got.Fields, want) {
		t.Errorf("fields = %s, want %s", ir.Describe(got.Fields), ir.Describe(want))
	}
	if got.IsDirty() {
		t.Error("loaded entity should be clean")
	}
}

func TestFindByKey_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.FindByKey(context.Background(), typeOf(t, s, "User"), 42)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("FindByKey() error = %v, want ErrNotFound", err)
	}
}

func TestFindByKey_SubtypeScope(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	truck := mustCreate(t, s, "Truck", ir.IRObject{"name": ir.IRString("hauler"), "payload": ir.IRInt(900)})

	if _, err := s.FindByKey(ctx, typeOf(t, s, "Car"), truck.Key); !errors.Is(err, ErrNotFound) {
		t.Errorf("Car lookup of a truck row: error = %v, want ErrNotFound", err)
	}

	got, err := s.FindByKey(ctx, typeOf(t, s, "Vehicle"), truck.Key)
	if err != nil {
		t.Fatalf("Vehicle lookup failed: %v", err)
	}
	if got.Type != "Truck" {
		t.Errorf("base lookup type = %s, want Truck", got.Type)
	}
	if _, ok := got.Fields["doors"]; ok {
		t.Error("truck entity should not carry the car-only doors column")
	}
	if !ir.Equal(got.Fields["payload"], ir.IRInt(900)) {
		t.Errorf("payload = %v, want 900", got.Fields["payload"])
	}
}

func TestFindByCriteria(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	userT := typeOf(t, s, "User")
	ada := mustCreate(t, s, "User", ir.IRObject{"name": ir.IRString("ada"), "email": ir.IRString("ada@example.com")})
	mustCreate(t, s, "User", ir.IRObject{"name": ir.IRString("bob")})
	mustCreate(t, s, "User", ir.IRObject{"name": ir.IRString("bob")})

	t.Run("single match", func(t *testing.T) {
		got, err := s.FindByCriteria(ctx, userT, ir.IRObject{"email": ir.IRString("ada@example.com")})
		if err != nil {
			t.Fatalf("FindByCriteria() failed: %v", err)
		}
		if got.Key != ada.Key {
			t.Errorf("key = %d, want %d", got.Key, ada.Key)
		}
	})

	t.Run("by key column", func(t *testing.T) {
		got, err := s.FindByCriteria(ctx, userT, ir.IRObject{"id": ir.IRInt(ada.Key)})
		if err != nil {
			t.Fatalf("FindByCriteria() failed: %v", err)
		}
		if got.Key != ada.Key {
			t.Errorf("key = %d, want %d", got.Key, ada.Key)
		}
	})

	t.Run("no match", func(t *testing.T) {
		_, err := s.FindByCriteria(ctx, userT, ir.IRObject{"name": ir.IRString("carol")})
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("error = %v, want ErrNotFound", err)
		}
	})

	t.Run("ambiguous", func(t *testing.T) {
		_, err := s.FindByCriteria(ctx, userT, ir.IRObject{"name": ir.IRString("bob")})
		if !errors.Is(err, ErrAmbiguousMatch) {
			t.Errorf("error = %v, want ErrAmbiguousMatch", err)
		}
	})

	t.Run("null criterion matches NULL", func(t *testing.T) {
		got, err := s.FindByCriteria(ctx, userT, ir.IRObject{"name": ir.IRString("ada"), "email": ir.IRNull{}})
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("FindByCriteria() = %v, %v; ada has an email", got, err)
		}
	})

	t.Run("unknown column", func(t *testing.T) {
		_, err := s.FindByCriteria(ctx, userT, ir.IRObject{"nickname": ir.IRString("x")})
		if !errors.Is(err, ErrUnknownColumn) {
			t.Errorf("error = %v, want ErrUnknownColumn", err)
		}
	})

	t.Run("mistyped value", func(t *testing.T) {
		_, err := s.FindByCriteria(ctx, userT, ir.IRObject{"name": ir.IRInt(1)})
		if !errors.Is(err, ErrInvalidValue) {
			t.Errorf("error = %v, want ErrInvalidValue", err)
		}
	})
}

func TestRelatedKeys(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	author := mustCreate(t, s, "User", ir.IRObject{"name": ir.IRString("ada")})
	other := mustCreate(t, s, "User", ir.IRObject{"name": ir.IRString("bob")})
	p1 := mustCreate(t, s, "Post", ir.IRObject{"title": ir.IRString("one"), "author_id": ir.IRInt(author.Key)})
	mustCreate(t, s, "Post", ir.IRObject{"title": ir.IRString("other"), "author_id": ir.IRInt(other.Key)})
	p3 := mustCreate(t, s, "Post", ir.IRObject{"title": ir.IRString("two"), "author_id": ir.IRInt(author.Key)})

	keys, err := s.RelatedKeys(ctx, typeOf(t, s, "Post"), "author_id", ir.IRInt(author.Key))
	if err != nil {
		t.Fatalf("RelatedKeys() failed: %v", err)
	}
	if len(keys) != 2 || keys[0] != p1.Key || keys[1] != p3.Key {
		t.Errorf("RelatedKeys() = %v, want [%d %d]", keys, p1.Key, p3.Key)
	}

	if _, err := s.RelatedKeys(ctx, typeOf(t, s, "Post"), "owner_id", ir.IRInt(1)); !errors.Is(err, ErrUnknownColumn) {
		t.Errorf("unknown column error = %v", err)
	}
}

func TestRelatedKeys_SubtypeScope(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	owner := mustCreate(t, s, "User", ir.IRObject{"name": ir.IRString("ada")})
	car := mustCreate(t, s, "Car", ir.IRObject{"name": ir.IRString("mini"), "owner_id": ir.IRInt(owner.Key)})
	truck := mustCreate(t, s, "Truck", ir.IRObject{"name": ir.IRString("rig"), "owner_id": ir.IRInt(owner.Key)})

	all, err := s.RelatedKeys(ctx, typeOf(t, s, "Vehicle"), "owner_id", ir.IRInt(owner.Key))
	if err != nil {
		t.Fatalf("RelatedKeys(Vehicle) failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("base scope keys = %v, want car and truck", all)
	}

	cars, err := s.RelatedKeys(ctx, typeOf(t, s, "Car"), "owner_id", ir.IRInt(owner.Key))
	if err != nil {
		t.Fatalf("RelatedKeys(Car) failed: %v", err)
	}
	if len(cars) != 1 || cars[0] != car.Key {
		t.Errorf("car scope keys = %v, want [%d] (not truck %d)", cars, car.Key, truck.Key)
	}
}

func TestPivotRows(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	rel := relationOf(t, s, "Post", "tags")
	post := mustCreate(t, s, "Post", ir.IRObject{"title": ir.IRString("p")})
	go1 := mustCreate(t, s, "Tag", ir.IRObject{"name": ir.IRString("go")})
	db := mustCreate(t, s, "Tag", ir.IRObject{"name": ir.IRString("db")})

	if err := s.AttachPivot(ctx, rel, post.Key, db.Key, ir.IRObject{}); err != nil {
		t.Fatalf("AttachPivot() failed: %v", err)
	}
	if err := s.AttachPivot(ctx, rel, post.Key, go1.Key, ir.IRObject{"weight": ir.IRInt(5)}); err != nil {
		t.Fatalf("AttachPivot() failed: %v", err)
	}

	rows, err := s.PivotRows(ctx, rel, post.Key)
	if err != nil {
		t.Fatalf("PivotRows() failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("PivotRows() = %d rows, want 2", len(rows))
	}
	if rows[0].RelatedKey != go1.Key || !ir.Equal(rows[0].Attributes, ir.IRObject{"weight": ir.IRInt(5)}) {
		t.Errorf("rows[0] = %+v", rows[0])
	}
	if rows[1].RelatedKey != db.Key || len(rows[1].Attributes) != 0 {
		t.Errorf("rows[1] = %+v, want no attributes for NULL weight", rows[1])
	}

	inverse, err := s.PivotRows(ctx, relationOf(t, s, "Tag", "posts"), go1.Key)
	if err != nil {
		t.Fatalf("inverse PivotRows() failed: %v", err)
	}
	if len(inverse) != 1 || inverse[0].RelatedKey != post.Key {
		t.Errorf("inverse rows = %+v, want post %d", inverse, post.Key)
	}
	if len(inverse[0].Attributes) != 0 {
		t.Errorf("inverse relation declares no pivot columns, got %s", ir.Describe(inverse[0].Attributes))
	}
}
