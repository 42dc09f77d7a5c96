package arp

import (
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
)

var (
	mac1 = net.HardwareAddr{0x00, 0x00, 0x00, 0x00, 0x00, 0x01}
	mac2 = net.HardwareAddr{0x00, 0x00, 0x00, 0x00, 0x00, 0x02}
	ip1  = netip.MustParseAddr("10.0.0.1")
	ip2  = netip.MustParseAddr("10.0.0.2")
)

func TestHasNewInformationExactlyOnce(t *testing.T) {
	tr := NewTracker(0)

	if !tr.HasNewInformation(mac1, ip1) {
		t.Fatalf("unseen pair should be new")
	}
	tr.Record(mac1, ip1)
	if tr.HasNewInformation(mac1, ip1) {
		t.Fatalf("recorded pair should not be new")
	}
	if !tr.HasNewInformation(mac1, ip2) {
		t.Fatalf("new ip for known mac should be new")
	}
	if !tr.HasNewInformation(mac2, ip1) {
		t.Fatalf("unseen mac should be new")
	}
}

func TestRecordIsIdempotent(t *testing.T) {
	tr := NewTracker(0)
	tr.Record(mac1, ip1)
	tr.Record(mac1, ip1)

	snap := tr.Snapshot()
	if len(snap) != 1 || len(snap[0].IPs) != 1 {
		t.Fatalf("snapshot = %+v, want one mac with one ip", snap)
	}
}

func TestObserveRaceReportsNewOnce(t *testing.T) {
	tr := NewTracker(0)

	var newCount atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tr.Observe(mac1, ip1) {
				newCount.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := newCount.Load(); got != 1 {
		t.Fatalf("Observe reported new %d times, want 1", got)
	}
}

func TestBoundedEntries(t *testing.T) {
	tr := NewTracker(1)
	tr.Record(mac1, ip1)
	tr.Record(mac2, ip2)

	if tr.Len() != 1 {
		t.Fatalf("Len = %d, want 1", tr.Len())
	}
	if !tr.HasNewInformation(mac1, ip1) {
		t.Fatalf("evicted mac should read as new again")
	}
}

func TestSnapshotSorted(t *testing.T) {
	tr := NewTracker(0)
	tr.Record(mac2, ip2)
	tr.Record(mac1, ip2)
	tr.Record(mac1, ip1)

	snap := tr.Snapshot()
	if len(snap) != 2 || snap[0].MAC != mac1.String() {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap[0].IPs[0] != ip1 || snap[0].IPs[1] != ip2 {
		t.Fatalf("ips not sorted: %v", snap[0].IPs)
	}
}
