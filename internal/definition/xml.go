package definition

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"
)

// FormatVersion is written to the root element of every file.
const FormatVersion = "1.0"

// TimestampLayout is used for the created/modified attributes.
const TimestampLayout = "2006-01-02_15-04-05"

type document struct {
	XMLName       xml.Name       `xml:"VirtualMachine"`
	Version       string         `xml:"version,attr"`
	Created       string         `xml:"created,attr,omitempty"`
	Modified      string         `xml:"modified,attr,omitempty"`
	BasicInfo     basicInfo      `xml:"BasicInfo"`
	System        systemSection  `xml:"System"`
	Storage       storageSection `xml:"Storage"`
	Network       networkSection `xml:"Network"`
	Display       displaySection `xml:"Display"`
	Audio         controllerElem `xml:"Audio"`
	USB           controllerElem `xml:"USB"`
	SharedFolders foldersSection `xml:"SharedFolders"`
}

type basicInfo struct {
	Name        string `xml:"Name"`
	UUID        string `xml:"UUID"`
	Description string `xml:"Description"`
	OSType      string `xml:"OSType"`
}

type systemSection struct {
	Memory struct {
		MB int `xml:"mb,attr"`
	} `xml:"Memory"`
	CPU struct {
		Count int `xml:"count,attr"`
	} `xml:"CPU"`
	BootOrder struct {
		Devices []string `xml:"Device"`
	} `xml:"BootOrder"`
}

type storageSection struct {
	HardDisks struct {
		Disks []diskElem `xml:"Disk"`
	} `xml:"HardDisks"`
	CDROM struct {
		Image string `xml:"image,attr"`
	} `xml:"CDROM"`
}

type networkSection struct {
	Adapters struct {
		Adapters []adapterElem `xml:"Adapter"`
	} `xml:"Adapters"`
}

type diskElem struct {
	Path string `xml:"path,attr"`
}

type adapterElem struct {
	Type string `xml:"type,attr"`
}

type displaySection struct {
	VideoMemory struct {
		MB int `xml:"mb,attr"`
	} `xml:"VideoMemory"`
	Monitors struct {
		Count int `xml:"count,attr"`
	} `xml:"Monitors"`
	Acceleration3D struct {
		Enabled bool `xml:"enabled,attr"`
	} `xml:"Acceleration3D"`
}

type controllerElem struct {
	Controller string `xml:"Controller"`
}

type foldersSection struct {
	Folders []folderElem `xml:"Folder"`
}

type folderElem struct {
	Name string `xml:"name,attr"`
	Path string `xml:"path,attr"`
}

// encode renders m as an indented XML document with header.
func encode(m *Machine) ([]byte, error) {
	doc := toDocument(m)
	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(xml.Header)+len(body)+1)
	out = append(out, xml.Header...)
	out = append(out, body...)
	out = append(out, '\n')
	return out, nil
}

// decode parses data into a Machine. It does not validate.
func decode(data []byte) (*Machine, error) {
	var doc document
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Version != "" && doc.Version != "1" && !strings.HasPrefix(doc.Version, "1.") {
		return nil, fmt.Errorf("unsupported format version %q", doc.Version)
	}
	return fromDocument(&doc)
}

func toDocument(m *Machine) *document {
	doc := &document{
		Version:  FormatVersion,
		Created:  formatTime(m.CreatedAt),
		Modified: formatTime(m.ModifiedAt),
		BasicInfo: basicInfo{
			Name:        m.Name,
			UUID:        m.UUID,
			Description: m.Description,
			OSType:      m.OSType,
		},
	}

	doc.System.Memory.MB = m.MemoryMB
	doc.System.CPU.Count = m.CPUCount
	for _, b := range m.BootOrder {
		doc.System.BootOrder.Devices = append(doc.System.BootOrder.Devices, string(b))
	}

	for _, p := range m.HardDisks {
		doc.Storage.HardDisks.Disks = append(doc.Storage.HardDisks.Disks, diskElem{Path: p})
	}
	doc.Storage.CDROM.Image = m.OpticalMedia

	for _, a := range m.NetworkAdapters {
		doc.Network.Adapters.Adapters = append(doc.Network.Adapters.Adapters, adapterElem{Type: a.Mode})
	}

	doc.Display.VideoMemory.MB = m.Display.VideoMemoryMB
	doc.Display.Monitors.Count = m.Display.MonitorCount
	doc.Display.Acceleration3D.Enabled = m.Display.Acceleration3D
	doc.Audio.Controller = m.Audio.Controller
	doc.USB.Controller = m.USBController

	for _, f := range m.SharedFolders {
		doc.SharedFolders.Folders = append(doc.SharedFolders.Folders, folderElem{Name: f.Name, Path: f.Path})
	}
	return doc
}

func fromDocument(doc *document) (*Machine, error) {
	created, err := parseTime(doc.Created)
	if err != nil {
		return nil, fmt.Errorf("created attribute: %w", err)
	}
	modified, err := parseTime(doc.Modified)
	if err != nil {
		return nil, fmt.Errorf("modified attribute: %w", err)
	}

	m := &Machine{
		Name:          doc.BasicInfo.Name,
		UUID:          doc.BasicInfo.UUID,
		Description:   doc.BasicInfo.Description,
		OSType:        doc.BasicInfo.OSType,
		MemoryMB:      doc.System.Memory.MB,
		CPUCount:      doc.System.CPU.Count,
		OpticalMedia:  doc.Storage.CDROM.Image,
		USBController: doc.USB.Controller,
		Display: Display{
			VideoMemoryMB:  doc.Display.VideoMemory.MB,
			MonitorCount:   doc.Display.Monitors.Count,
			Acceleration3D: doc.Display.Acceleration3D.Enabled,
		},
		Audio:      Audio{Controller: doc.Audio.Controller},
		CreatedAt:  created,
		ModifiedAt: modified,
	}

	for _, d := range doc.System.BootOrder.Devices {
		m.BootOrder = append(m.BootOrder, BootDevice(strings.TrimSpace(d)))
	}
	for _, d := range doc.Storage.HardDisks.Disks {
		m.HardDisks = append(m.HardDisks, d.Path)
	}
	for _, a := range doc.Network.Adapters.Adapters {
		m.NetworkAdapters = append(m.NetworkAdapters, NetworkAdapter{Mode: a.Type})
	}
	for _, f := range doc.SharedFolders.Folders {
		m.SharedFolders = append(m.SharedFolders, SharedFolder{Name: f.Name, Path: f.Path})
	}
	return m, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format(TimestampLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.ParseInLocation(TimestampLayout, s, time.Local)
}
