package tokencache

import (
	"testing"
	"time"

	"github.com/marmos91/usbsas/pkg/device"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestRecordAndSeenToken(t *testing.T) {
	c := openTestCache(t)

	if err := c.RecordToken("tag-1", time.Hour); err != nil {
		t.Fatalf("RecordToken: %v", err)
	}
	seen, err := c.SeenToken("tag-1")
	if err != nil {
		t.Fatalf("SeenToken: %v", err)
	}
	if !seen {
		t.Fatal("recorded token not seen")
	}
	seen, err = c.SeenToken("tag-never-issued")
	if err != nil {
		t.Fatal(err)
	}
	if seen {
		t.Fatal("unissued token reported as seen")
	}
}

func TestCacheAndLookupFingerprint(t *testing.T) {
	c := openTestCache(t)

	desc := device.Describe(device.Device{Kind: device.KindUSB, USB: &device.USB{
		Busnum: 2, Devnum: 7, Manufacturer: "Kingston", Serial: "S1", Description: "DT",
	}})
	if err := c.CacheFingerprint(desc); err != nil {
		t.Fatalf("CacheFingerprint: %v", err)
	}

	got, found, err := c.LookupFingerprint(desc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("cached fingerprint not found")
	}
	if got.ID != desc.ID || got.Dev.Usb == nil || got.Dev.Usb.Serial != "S1" {
		t.Fatalf("got = %+v", got)
	}

	_, found, err = c.LookupFingerprint("ffff")
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("unknown fingerprint found")
	}
}
