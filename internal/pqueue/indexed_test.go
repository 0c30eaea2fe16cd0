package pqueue

import (
	"math/rand"
	"sort"
	"testing"
)

func TestPushPopOrder(t *testing.T) {
	q := New[string]()
	q.Push("a", 0.2)
	q.Push("b", 0.9)
	q.Push("c", 0.5)

	want := []string{"b", "c", "a"}
	for _, expected := range want {
		key, _, ok := q.PopMax()
		if !ok {
			t.Fatal("queue exhausted early")
		}
		if key != expected {
			t.Errorf("PopMax = %q, want %q", key, expected)
		}
	}
	if _, _, ok := q.PopMax(); ok {
		t.Error("expected empty queue")
	}
}

func TestUpdateScoreReorders(t *testing.T) {
	q := New[string]()
	q.Push("low", 0.1)
	q.Push("high", 0.9)

	if !q.UpdateScore("low", 1.0) {
		t.Fatal("UpdateScore reported key missing")
	}
	key, score, _ := q.PopMax()
	if key != "low" || score != 1.0 {
		t.Errorf("PopMax = (%q, %v), want (low, 1.0)", key, score)
	}
}

func TestUpdateScoreMissingKey(t *testing.T) {
	q := New[string]()
	if q.UpdateScore("ghost", 0.5) {
		t.Error("UpdateScore should report missing key")
	}
}

func TestPushExistingKeyUpdates(t *testing.T) {
	q := New[string]()
	q.Push("x", 0.3)
	q.Push("x", 0.8)
	if q.Len() != 1 {
		t.Fatalf("Len = %d, want 1", q.Len())
	}
	if score, _ := q.Score("x"); score != 0.8 {
		t.Errorf("Score = %v, want 0.8", score)
	}
}

func TestRemove(t *testing.T) {
	q := New[int]()
	for i := 0; i < 10; i++ {
		q.Push(i, float64(i))
	}
	if !q.Remove(5) {
		t.Fatal("Remove reported key missing")
	}
	if q.Contains(5) {
		t.Error("key still present after Remove")
	}
	// Remaining keys still pop in descending order.
	prev := 11.0
	for q.Len() > 0 {
		_, score, _ := q.PopMax()
		if score > prev {
			t.Fatalf("heap order violated: %v after %v", score, prev)
		}
		prev = score
	}
}

func TestRandomizedHeapProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	q := New[int]()
	scores := make(map[int]float64)

	for i := 0; i < 500; i++ {
		s := rng.Float64()
		q.Push(i, s)
		scores[i] = s
	}
	// Update half of the keys.
	for i := 0; i < 250; i++ {
		s := rng.Float64()
		q.UpdateScore(i, s)
		scores[i] = s
	}

	var popped []float64
	for q.Len() > 0 {
		key, score, _ := q.PopMax()
		if scores[key] != score {
			t.Fatalf("key %d popped with score %v, want %v", key, score, scores[key])
		}
		popped = append(popped, score)
	}
	if !sort.IsSorted(sort.Reverse(sort.Float64Slice(popped))) {
		t.Error("pop sequence not descending")
	}
}
