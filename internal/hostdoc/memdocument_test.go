package hostdoc

import (
	"context"
	"errors"
	"testing"

	"github.com/rpattn/engsnap/internal/domain"
)

func seedRoom(t *testing.T, doc *MemDocument, trackID, name string) domain.TrackedEntity {
	t.Helper()
	return doc.AddEntity(domain.TrackedEntity{
		TrackID:  trackID,
		Category: domain.CategoryRoom,
		Placed:   true,
		Position: &domain.Point3D{X: 1, Y: 2},
		Parameters: map[string]domain.Parameter{
			domain.ParamName:   {Value: domain.NewStringValue(name, name)},
			domain.ParamNumber: {Value: domain.NewStringValue("", "")},
			"Comments":         {Value: domain.NewStringValue("new", "new")},
			domain.ParamArea:   {Value: domain.NewDoubleValue(25.0, "25 m²"), ReadOnly: true},
		},
	})
}

func TestTransactionCommitPersistsWrites(t *testing.T) {
	ctx := context.Background()
	doc := NewMemDocument()
	room := seedRoom(t, doc, "ROOM-0001", "Office")

	err := doc.WithTransaction(ctx, "edit", func(tx Transaction) error {
		return tx.SetParameter(room.ElementID, "Comments", domain.NewStringValue("old", "old"))
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}

	got, err := doc.GetEntity(ctx, room.ElementID)
	if err != nil {
		t.Fatalf("get entity: %v", err)
	}
	if got.Parameters["Comments"].Value.Text != "old" {
		t.Fatalf("expected committed write, got %q", got.Parameters["Comments"].Value.Text)
	}
}

func TestTransactionErrorRollsBackEverything(t *testing.T) {
	ctx := context.Background()
	doc := NewMemDocument()
	doc.RegisterNamedElement("Level 1")
	room := seedRoom(t, doc, "ROOM-0001", "Office")
	boom := errors.New("structural failure")

	err := doc.WithTransaction(ctx, "edit", func(tx Transaction) error {
		if err := tx.SetParameter(room.ElementID, "Comments", domain.NewStringValue("old", "old")); err != nil {
			t.Fatalf("set inside tx: %v", err)
		}
		if _, err := tx.CreateEntity(CreateSpec{Category: domain.CategoryRoom, Position: &domain.Point3D{}, Level: "Level 1"}); err != nil {
			t.Fatalf("create inside tx: %v", err)
		}
		if err := tx.DeleteEntity(room.ElementID); err != nil {
			t.Fatalf("delete inside tx: %v", err)
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped structural failure, got %v", err)
	}

	got, err := doc.GetEntity(ctx, room.ElementID)
	if err != nil {
		t.Fatalf("entity should survive the rollback: %v", err)
	}
	if got.Parameters["Comments"].Value.Text != "new" {
		t.Fatalf("write should be rolled back, got %q", got.Parameters["Comments"].Value.Text)
	}
	all, err := doc.ListEntities(ctx, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("created entity should be rolled back, have %d entities", len(all))
	}
}

func TestTransactionReadsObserveUncommittedWrites(t *testing.T) {
	ctx := context.Background()
	doc := NewMemDocument()
	seedRoom(t, doc, "ROOM-0001", "Office")

	err := doc.WithTransaction(ctx, "create", func(tx Transaction) error {
		created, err := tx.CreateEntity(CreateSpec{Category: domain.CategoryRoom})
		if err != nil {
			return err
		}
		if err := tx.SetTrackID(created.ElementID, "ROOM-0002"); err != nil {
			return err
		}
		rooms, err := tx.ListEntities(domain.CategoryRoom)
		if err != nil {
			return err
		}
		if len(rooms) != 2 {
			t.Fatalf("expected the created room to be visible inside the tx, have %d", len(rooms))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}
}

func TestSetParameterValidatesTarget(t *testing.T) {
	ctx := context.Background()
	doc := NewMemDocument()
	room := seedRoom(t, doc, "ROOM-0001", "Office")

	err := doc.WithTransaction(ctx, "edit", func(tx Transaction) error {
		if err := tx.SetParameter(room.ElementID, "Nope", domain.NewStringValue("x", "x")); !errors.Is(err, ErrParameterNotFound) {
			t.Fatalf("expected ErrParameterNotFound, got %v", err)
		}
		if err := tx.SetParameter(room.ElementID, domain.ParamArea, domain.NewDoubleValue(30, "30")); !errors.Is(err, ErrParameterReadOnly) {
			t.Fatalf("expected ErrParameterReadOnly, got %v", err)
		}
		if err := tx.SetParameter(room.ElementID, "Comments", domain.NewIntegerValue(1, "1")); !errors.Is(err, ErrStorageTypeMismatch) {
			t.Fatalf("expected ErrStorageTypeMismatch, got %v", err)
		}
		if err := tx.SetParameter(9999, "Comments", domain.NewStringValue("x", "x")); !errors.Is(err, ErrEntityNotFound) {
			t.Fatalf("expected ErrEntityNotFound, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}
}

func TestCreateEntityUnknownLevelCreatesUnplaced(t *testing.T) {
	ctx := context.Background()
	doc := NewMemDocument()
	doc.RegisterNamedElement("Level 1")

	err := doc.WithTransaction(ctx, "create", func(tx Transaction) error {
		unplaced, err := tx.CreateEntity(CreateSpec{
			Category: domain.CategoryRoom,
			Position: &domain.Point3D{X: 5},
			Level:    "Level 99",
		})
		if err != nil {
			return err
		}
		if unplaced.Placed {
			t.Fatal("unknown level should produce an unplaced element")
		}

		placed, err := tx.CreateEntity(CreateSpec{
			Category: domain.CategoryRoom,
			Position: &domain.Point3D{X: 5},
			Level:    "Level 1",
		})
		if err != nil {
			return err
		}
		if !placed.Placed {
			t.Fatal("known level and position should produce a placed element")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}
}

func TestFlipFacingNegatesOrientation(t *testing.T) {
	ctx := context.Background()
	doc := NewMemDocument()
	opening := doc.AddEntity(domain.TrackedEntity{
		TrackID:  "DOOR-0001",
		Category: domain.CategoryOpening,
		Placed:   true,
		Facing:   &domain.Vector3D{X: 1},
		Hand:     &domain.Vector3D{Y: 1},
	})

	err := doc.WithTransaction(ctx, "flip", func(tx Transaction) error {
		return tx.FlipFacing(opening.ElementID)
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}

	got, err := doc.GetEntity(ctx, opening.ElementID)
	if err != nil {
		t.Fatalf("get entity: %v", err)
	}
	if got.Facing.X != -1 {
		t.Fatalf("expected negated facing, got %+v", got.Facing)
	}
	if got.Hand.Y != 1 {
		t.Fatalf("hand should be untouched by a facing flip, got %+v", got.Hand)
	}
}
