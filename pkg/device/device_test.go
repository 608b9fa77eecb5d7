package device

import (
	"encoding/json"
	"strings"
	"testing"
)

func usbDev() *USB {
	return &USB{
		Busnum:       2,
		Devnum:       7,
		VendorID:     0x0951,
		ProductID:    0x1666,
		Manufacturer: "Kingston",
		Description:  "DataTraveler",
		Serial:       "08606E6D4123",
		SectorSize:   512,
		DevSize:      8 << 30,
		IsSrc:        true,
		IsDst:        true,
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	d := Device{Kind: KindUSB, USB: usbDev()}
	if d.Fingerprint() != d.Fingerprint() {
		t.Fatal("fingerprint not deterministic")
	}
	if len(d.Fingerprint()) != 64 {
		t.Fatalf("fingerprint length = %d, want 64 hex chars", len(d.Fingerprint()))
	}
}

func TestFingerprintKindDomainSeparated(t *testing.T) {
	net := Device{Kind: KindNet, Net: &Net{Description: "x", LongDescription: "y", URL: "z"}}
	cmd := Device{Kind: KindCmd, Cmd: &Cmd{Description: "x", LongDescription: "y", Binary: "z"}}
	if net.Fingerprint() == cmd.Fingerprint() {
		t.Fatal("net and cmd devices with identical fields must not collide")
	}
}

func TestFingerprintSensitiveToIdentityFields(t *testing.T) {
	base := Device{Kind: KindUSB, USB: usbDev()}

	mutations := map[string]func(*USB){
		"busnum":       func(u *USB) { u.Busnum++ },
		"devnum":       func(u *USB) { u.Devnum++ },
		"manufacturer": func(u *USB) { u.Manufacturer += "x" },
		"description":  func(u *USB) { u.Description += "x" },
		"serial":       func(u *USB) { u.Serial += "x" },
	}
	for name, mutate := range mutations {
		u := *usbDev()
		mutate(&u)
		if (Device{Kind: KindUSB, USB: &u}).Fingerprint() == base.Fingerprint() {
			t.Errorf("changing %s did not change the fingerprint", name)
		}
	}
}

// Vendor/product IDs are deliberately excluded from the hash input; two
// devices differing only there collide by design.
func TestFingerprintIgnoresVendorProductIDs(t *testing.T) {
	base := Device{Kind: KindUSB, USB: usbDev()}
	u := *usbDev()
	u.VendorID, u.ProductID = 0xdead, 0xbeef
	if (Device{Kind: KindUSB, USB: &u}).Fingerprint() != base.Fingerprint() {
		t.Fatal("vendorid/productid must not affect the fingerprint")
	}
}

func TestDescribeOmitsBusAndDevNumbers(t *testing.T) {
	desc := Describe(Device{Kind: KindUSB, USB: usbDev()})
	data, err := json.Marshal(desc)
	if err != nil {
		t.Fatalf("marshal descriptor: %v", err)
	}
	s := string(data)
	for _, forbidden := range []string{"busnum", "devnum"} {
		if strings.Contains(s, forbidden) {
			t.Errorf("descriptor JSON leaks %s: %s", forbidden, s)
		}
	}
	if !strings.Contains(s, `"dev_type":"Usb"`) {
		t.Errorf("descriptor JSON missing dev_type tag: %s", s)
	}
	if !strings.Contains(s, `"Usb":`) {
		t.Errorf("descriptor JSON missing Usb payload: %s", s)
	}
}

func TestDescribeNetAndCmd(t *testing.T) {
	net := Describe(Device{Kind: KindNet, Net: &Net{Description: "archive server", URL: "https://up.example"}})
	if net.DevType != "Net" || !net.IsDst || net.IsSrc {
		t.Fatalf("net descriptor flags wrong: %+v", net)
	}
	cmd := Describe(Device{Kind: KindCmd, Cmd: &Cmd{Description: "burn to DVD", Binary: "/usr/bin/burn"}})
	if cmd.DevType != "Cmd" || !cmd.IsDst || cmd.Dev.Cmd == nil {
		t.Fatalf("cmd descriptor wrong: %+v", cmd)
	}
}
