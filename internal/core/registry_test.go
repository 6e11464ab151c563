package core

import (
	"context"
	"testing"

	"github.com/JonMunkholm/importer/internal/importer"
)

func testKind(key, group string) KindDefinition {
	return KindDefinition{
		Info: KindInfo{Key: key, Group: group, Label: key},
		Columns: []importer.Column{
			{Name: "Name", Type: importer.TypeString, Required: true},
			{Name: "Value", Type: importer.TypeNumber},
		},
		NewPipeline: func(Deps) Pipeline {
			return Pipeline{
				Normalizer: func(_ context.Context, row importer.Row) (*importer.ProcessedRow, error) {
					return &importer.ProcessedRow{Row: row}, nil
				},
				Validator: func(context.Context, *importer.ProcessedRow) (bool, error) { return true, nil },
				Creator:   func(context.Context, *importer.ProcessedRow) error { return nil },
			}
		},
	}
}

func TestRegistry(t *testing.T) {
	Clear()
	t.Cleanup(Clear)

	Register(testKind("b", "meters"))
	Register(testKind("a", "meters"))
	Register(testKind("z", "helpdesk"))

	if got := KindCount(); got != 3 {
		t.Fatalf("KindCount = %d, want 3", got)
	}

	def, ok := Get("a")
	if !ok {
		t.Fatal("Get(a) not found")
	}
	if want := []string{"Name", "Value"}; len(def.Info.Columns) != 2 || def.Info.Columns[0] != want[0] {
		t.Errorf("Info.Columns = %v, want %v", def.Info.Columns, want)
	}

	var keys []string
	for _, d := range All() {
		keys = append(keys, d.Info.Key)
	}
	if got := keys; len(got) != 3 || got[0] != "z" || got[1] != "a" || got[2] != "b" {
		t.Errorf("All order = %v, want [z a b]", got)
	}

	if got := ByGroup("meters"); len(got) != 2 || got[0].Info.Key != "a" {
		t.Errorf("ByGroup(meters) = %v", got)
	}
	if got := Groups(); len(got) != 2 || got[0] != "helpdesk" {
		t.Errorf("Groups = %v", got)
	}

	if _, ok := Get("missing"); ok {
		t.Error("Get(missing) should not be found")
	}
}

func TestRegister_PanicsOnDuplicate(t *testing.T) {
	Clear()
	t.Cleanup(Clear)

	Register(testKind("a", "g"))

	defer func() {
		if recover() == nil {
			t.Error("Register should panic on duplicate key")
		}
	}()
	Register(testKind("a", "g"))
}

func TestRegister_PanicsOnIncomplete(t *testing.T) {
	Clear()
	t.Cleanup(Clear)

	def := testKind("a", "g")
	def.NewPipeline = nil

	defer func() {
		if recover() == nil {
			t.Error("Register should panic without a pipeline")
		}
	}()
	Register(def)
}
