package tables

import (
	"testing"
	"time"

	"github.com/bytedance/sonic"

	"github.com/Soyelijah/dashboard-dysaeats-sub001/projection"
)

func TestEncodeKeepsFilterColumnsBesideData(t *testing.T) {
	v := projection.OrderView{ID: "o1", RestaurantID: "R1", UserID: "U1", Status: "pending", Total: 13.25, Version: 4}
	raw, err := encode(viewEntity{PartitionKey: v.ID, RowKey: v.ID, RestaurantID: v.RestaurantID, UserID: v.UserID, Status: v.Status}, v)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var cols map[string]any
	if err := sonic.Unmarshal(raw, &cols); err != nil {
		t.Fatalf("unmarshal columns: %v", err)
	}
	if cols["RestaurantId"] != "R1" || cols["UserId"] != "U1" || cols["PartitionKey"] != "o1" {
		t.Fatalf("unexpected columns %v", cols)
	}

	var back projection.OrderView
	if err := decode(raw, &back); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if back.Total != 13.25 || back.Version != 4 || back.Status != "pending" {
		t.Fatalf("unexpected view %+v", back)
	}
}

func TestQuoteEscapesSingleQuotes(t *testing.T) {
	if got := quote("o'brien"); got != "'o''brien'" {
		t.Fatalf("unexpected quoted value %s", got)
	}
}

func TestOldestFirstOrdersAndLimits(t *testing.T) {
	base := time.Unix(1000, 0)
	in := []projection.Notification{
		{ID: "c", CreatedAt: base.Add(2 * time.Second)},
		{ID: "b", CreatedAt: base},
		{ID: "a", CreatedAt: base},
	}
	out := oldestFirst(in, 2)
	if len(out) != 2 || out[0].ID != "a" || out[1].ID != "b" {
		t.Fatalf("unexpected order %+v", out)
	}
	if got := oldestFirst(in, 0); len(got) != 3 {
		t.Fatalf("limit 0 should keep everything, got %d", len(got))
	}
}

func TestNamesAllListsEveryTable(t *testing.T) {
	n := Names{Orders: "O", Restaurants: "R", Users: "U", Payments: "P", Assignments: "A", Notifications: "N", Checkpoints: "C"}
	if got := n.All(); len(got) != 7 || got[6] != "C" {
		t.Fatalf("unexpected names %v", got)
	}
}
