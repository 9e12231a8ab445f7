package ids

import (
	"strings"
	"sync"
	"testing"

	"github.com/oklog/ulid/v2"
)

func TestCreateULIDSequentialOrdering(t *testing.T) {
	const total = 100
	ids := make([]string, total)
	for i := 0; i < total; i++ {
		ids[i] = CreateULID()
	}

	for i := 0; i < total; i++ {
		if _, err := ulid.Parse(ids[i]); err != nil {
			t.Fatalf("expected valid ULID, got %v", err)
		}
	}

	for i := 1; i < total; i++ {
		if ids[i-1] >= ids[i] {
			t.Fatalf("expected ULIDs to be strictly increasing, %s >= %s", ids[i-1], ids[i])
		}
	}
}

func TestCreateULIDConcurrentUnique(t *testing.T) {
	const workers, perWorker = 8, 50
	var (
		mu   sync.Mutex
		seen = make(map[string]struct{}, workers*perWorker)
		wg   sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id := CreateULID()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != workers*perWorker {
		t.Fatalf("expected %d unique ids, got %d", workers*perWorker, len(seen))
	}
}

func TestClientID(t *testing.T) {
	id := ClientID("scanner")
	if !strings.HasPrefix(id, "scanner-") {
		t.Fatalf("expected prefix, got %s", id)
	}
	if id != strings.ToLower(id) {
		t.Fatalf("expected lower-case id, got %s", id)
	}
	if !strings.HasPrefix(ClientID(""), "eventport-") {
		t.Fatal("expected default prefix")
	}
	if ClientID("x") == ClientID("x") {
		t.Fatal("expected distinct client ids")
	}
}
