// Package device models the sources and destinations a transfer can name:
// USB mass storage devices, network upload targets, and post-copy commands.
package device

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// Kind identifies which variant a Device/Destination is.
type Kind string

const (
	KindUSB Kind = "usb"
	KindNet Kind = "net"
	KindCmd Kind = "cmd"
)

// USB describes a USB mass storage device as reported by usbdev.
type USB struct {
	Busnum       uint32 `json:"busnum"`
	Devnum       uint32 `json:"devnum"`
	VendorID     uint16 `json:"vendorid"`
	ProductID    uint16 `json:"productid"`
	Manufacturer string `json:"manufacturer"`
	Description  string `json:"description"`
	Serial       string `json:"serial"`
	SectorSize   uint32 `json:"sector_size"`
	DevSize      uint64 `json:"dev_size"`
	IsSrc        bool   `json:"is_src"`
	IsDst        bool   `json:"is_dst"`
}

// Net describes a network upload destination (the uploader worker's target).
type Net struct {
	Description     string
	LongDescription string
	URL             string
}

// Cmd describes a post-copy command destination (the cmdexec worker's
// target).
type Cmd struct {
	Description     string
	LongDescription string
	Binary          string
	Args            []string
}

// Device is a tagged union over the three source/destination kinds.
type Device struct {
	Kind Kind
	USB  *USB
	Net  *Net
	Cmd  *Cmd
}

// Fingerprint is the hex-encoded, domain-separated SHA-256 hash that serves
// as the opaque, client-visible handle for a Device.
type Fingerprint string

// Fingerprint computes the domain-tagged SHA-256 fingerprint for a device.
//
// Field order and inclusion are load-bearing and intentionally asymmetric
// with the Device struct: a USB device's vendorid/productid are NOT part of
// the hash, even though they're present on the struct. Two devices that
// differ only in vendor/product ID but share bus position and identity
// strings collide by design.
func (d Device) Fingerprint() Fingerprint {
	h := sha256.New()
	switch d.Kind {
	case KindUSB:
		u := d.USB
		h.Write([]byte("Usb:"))
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], u.Busnum)
		h.Write(buf[:])
		binary.LittleEndian.PutUint32(buf[:], u.Devnum)
		h.Write(buf[:])
		h.Write([]byte(u.Manufacturer))
		h.Write([]byte(u.Description))
		h.Write([]byte(u.Serial))
	case KindNet:
		h.Write([]byte("Net:"))
		h.Write([]byte(d.Net.Description))
		h.Write([]byte(d.Net.LongDescription))
		h.Write([]byte(d.Net.URL))
	case KindCmd:
		h.Write([]byte("Cmd:"))
		h.Write([]byte(d.Cmd.Description))
		h.Write([]byte(d.Cmd.LongDescription))
		h.Write([]byte(d.Cmd.Binary))
		for _, a := range d.Cmd.Args {
			h.Write([]byte(a))
		}
	}
	return Fingerprint(hex.EncodeToString(h.Sum(nil)))
}

// Descriptor is the client-visible JSON shape of one device in a device
// listing: the fingerprint under "id", the kind tag under "dev_type", and a
// kind-keyed payload under "dev". The USB payload deliberately omits
// busnum/devnum — those never leave the server.
type Descriptor struct {
	Dev     DescriptorDev `json:"dev"`
	ID      Fingerprint   `json:"id"`
	IsSrc   bool          `json:"is_src"`
	IsDst   bool          `json:"is_dst"`
	DevType string        `json:"dev_type"`
}

// DescriptorDev keys the per-kind payload by its capitalized kind tag.
type DescriptorDev struct {
	Usb *USBDescriptor `json:"Usb,omitempty"`
	Net *NetDescriptor `json:"Net,omitempty"`
	Cmd *CmdDescriptor `json:"Cmd,omitempty"`
}

// USBDescriptor is the client-visible slice of a USB device.
type USBDescriptor struct {
	VendorID     uint16 `json:"vendorid"`
	ProductID    uint16 `json:"productid"`
	Manufacturer string `json:"manufacturer"`
	Serial       string `json:"serial"`
	Description  string `json:"description"`
	IsSrc        bool   `json:"is_src"`
	IsDst        bool   `json:"is_dst"`
}

// NetDescriptor is the client-visible slice of a network destination.
type NetDescriptor struct {
	Description     string `json:"description"`
	LongDescription string `json:"long_description"`
}

// CmdDescriptor is the client-visible slice of a command destination.
type CmdDescriptor struct {
	Description     string `json:"description"`
	LongDescription string `json:"long_description"`
}

// Describe converts a Device to its wire-facing Descriptor.
func Describe(d Device) Descriptor {
	desc := Descriptor{ID: d.Fingerprint()}
	switch d.Kind {
	case KindUSB:
		desc.DevType = "Usb"
		desc.IsSrc = d.USB.IsSrc
		desc.IsDst = d.USB.IsDst
		desc.Dev.Usb = &USBDescriptor{
			VendorID:     d.USB.VendorID,
			ProductID:    d.USB.ProductID,
			Manufacturer: d.USB.Manufacturer,
			Serial:       d.USB.Serial,
			Description:  d.USB.Description,
			IsSrc:        d.USB.IsSrc,
			IsDst:        d.USB.IsDst,
		}
	case KindNet:
		desc.DevType = "Net"
		desc.IsDst = true
		desc.Dev.Net = &NetDescriptor{
			Description:     d.Net.Description,
			LongDescription: d.Net.LongDescription,
		}
	case KindCmd:
		desc.DevType = "Cmd"
		desc.IsDst = true
		desc.Dev.Cmd = &CmdDescriptor{
			Description:     d.Cmd.Description,
			LongDescription: d.Cmd.LongDescription,
		}
	}
	return desc
}

// FSType names the filesystem files2fs builds on a USB destination device,
// chosen by the client at copy time.
type FSType string

const (
	FSTypeFAT32 FSType = "fat32"
	FSTypeExFAT FSType = "exfat"
	FSTypeNTFS  FSType = "ntfs"
)

// FileType classifies a directory entry as seen by scsi2files/tar2files.
// Anything that is neither a regular file nor a directory (symlinks, device
// nodes, sockets) is Other and lands on the errors list during selection
// expansion rather than in the transfer set.
type FileType int32

const (
	FileTypeRegular   FileType = 0
	FileTypeDirectory FileType = 1
	FileTypeOther     FileType = 2
)

// Attr is one path's attributes as answered by a GetAttr request.
type Attr struct {
	FType     FileType `json:"ftype"`
	Size      uint64   `json:"size"`
	Timestamp int64    `json:"timestamp"`
}

// Partition describes one partition on a selected source device, as
// reported by scsi2files's partition-table enumeration. TypeCode is the raw
// numeric partition type byte/GUID-derived code; TypeString is its
// human-readable rendering (e.g. "fat32", "ntfs", "linux").
type Partition struct {
	Index       int    `json:"index"`
	SizeBytes   uint64 `json:"size_bytes"`
	StartOffset uint64 `json:"start_offset"`
	TypeCode    uint32 `json:"type_code"`
	TypeString  string `json:"type_string"`
	Name        string `json:"name,omitempty"`
}

// DirectoryEntry describes one entry in a directory listing. Paths are
// absolute, '/'-separated, rooted at the opened partition.
type DirectoryEntry struct {
	Path      string   `json:"path"`
	FType     FileType `json:"ftype"`
	Size      uint64   `json:"size"`
	Timestamp int64    `json:"timestamp"`
}

// IsDir reports whether the entry is a directory.
func (e DirectoryEntry) IsDir() bool { return e.FType == FileTypeDirectory }
