package engine

import (
	"reflect"
	"testing"

	"copytrade_go/internal/domain"
)

func trade(id string, ts int64) domain.TradeEvent {
	return domain.TradeEvent{ID: id, SubjectKey: "TOKEN", TimestampMillis: ts, Side: domain.SideBuy}
}

func ids(events []domain.TradeEvent) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.ID
	}
	return out
}

func TestMerge_BufferCopyWins(t *testing.T) {
	buffer := []domain.TradeEvent{trade("tx1", 100)}
	snapshot := []domain.TradeEvent{trade("tx1", 90), trade("tx2", 80)}

	merged := Merge(buffer, snapshot)

	want := []domain.TradeEvent{trade("tx1", 100), trade("tx2", 80)}
	if !reflect.DeepEqual(merged, want) {
		t.Errorf("Merge() = %+v, want %+v", merged, want)
	}
}

func TestMerge_Idempotent(t *testing.T) {
	buffer := []domain.TradeEvent{trade("a", 5), trade("b", 7)}
	snapshot := []domain.TradeEvent{trade("c", 6), trade("a", 1), trade("d", 7)}

	first := Merge(buffer, snapshot)
	second := Merge(buffer, snapshot)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("Merge should be idempotent: %v vs %v", ids(first), ids(second))
	}
}

func TestMerge_DescendingOrder(t *testing.T) {
	buffer := []domain.TradeEvent{trade("a", 3), trade("b", 9), trade("c", 1)}
	snapshot := []domain.TradeEvent{trade("d", 7), trade("e", 2), trade("f", 9)}

	merged := Merge(buffer, snapshot)
	for i := 1; i < len(merged); i++ {
		if merged[i-1].TimestampMillis < merged[i].TimestampMillis {
			t.Fatalf("Order violated at %d: %v", i, ids(merged))
		}
	}
}

func TestMerge_TiesPreferBuffer(t *testing.T) {
	buffer := []domain.TradeEvent{trade("push-1", 50), trade("push-2", 50)}
	snapshot := []domain.TradeEvent{trade("pull-1", 50)}

	got := ids(Merge(buffer, snapshot))
	want := []string{"push-1", "push-2", "pull-1"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Tie order = %v, want %v", got, want)
	}
}

func TestMerge_ExactlyOnePerID(t *testing.T) {
	buffer := []domain.TradeEvent{trade("x", 10), trade("y", 20)}
	snapshot := []domain.TradeEvent{trade("y", 19), trade("x", 11), trade("x", 11), trade("z", 5)}

	merged := Merge(buffer, snapshot)
	count := make(map[string]int)
	for _, ev := range merged {
		count[ev.ID]++
	}
	for id, n := range count {
		if n != 1 {
			t.Errorf("ID %s appears %d times", id, n)
		}
	}
	for _, ev := range merged {
		if ev.ID == "x" && ev.TimestampMillis != 10 {
			t.Errorf("Expected buffer copy of x, got ts=%d", ev.TimestampMillis)
		}
	}
}

func TestMerge_DoesNotMutateInputs(t *testing.T) {
	buffer := []domain.TradeEvent{trade("a", 1), trade("b", 2)}
	snapshot := []domain.TradeEvent{trade("c", 3)}
	bufCopy := append([]domain.TradeEvent(nil), buffer...)

	_ = Merge(buffer, snapshot)

	if !reflect.DeepEqual(buffer, bufCopy) {
		t.Error("Merge must not reorder its inputs")
	}
}

func TestMerge_Empty(t *testing.T) {
	if got := Merge(nil, nil); len(got) != 0 {
		t.Errorf("Expected empty result, got %v", got)
	}
}
