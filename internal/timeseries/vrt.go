package timeseries

import (
	"encoding/xml"
	"os"
	"path/filepath"

	"github.com/mhelin/burstline/internal/errors"
)

// vrtDataset is the GDAL VRT structure written for an assembled stack: one
// band per layer, not merged, each referencing its exported file with an
// explicit no-data value.
type vrtDataset struct {
	XMLName xml.Name  `xml:"VRTDataset"`
	Bands   []vrtBand `xml:"VRTRasterBand"`
}

type vrtBand struct {
	DataType    string    `xml:"dataType,attr"`
	Band        int       `xml:"band,attr"`
	Description string    `xml:"Description"`
	NoDataValue float64   `xml:"NoDataValue"`
	Source      vrtSource `xml:"SimpleSource"`
}

type vrtSource struct {
	Filename   vrtFilename `xml:"SourceFilename"`
	SourceBand int         `xml:"SourceBand"`
}

type vrtFilename struct {
	RelativeToVRT int    `xml:"relativeToVRT,attr"`
	Path          string `xml:",chardata"`
}

// writeVRT writes the virtual mosaic for a stack. Layer files are referenced
// relative to the VRT so the burst directory stays relocatable.
func writeVRT(path string, stack *Stack, noData float64) error {
	ds := vrtDataset{}
	for _, layer := range stack.Layers {
		description := layer.Date
		if layer.SlaveDate != "" {
			description = layer.Date + "_" + layer.SlaveDate
		}
		ds.Bands = append(ds.Bands, vrtBand{
			DataType:    "Float32",
			Band:        layer.Index,
			Description: description,
			NoDataValue: noData,
			Source: vrtSource{
				Filename:   vrtFilename{RelativeToVRT: 1, Path: filepath.Base(layer.ExportPath)},
				SourceBand: 1,
			},
		})
	}

	data, err := xml.MarshalIndent(ds, "", "  ")
	if err != nil {
		return errors.New(err).
			Component("timeseries").
			Category(errors.CategoryTimeseries).
			Build()
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return errors.New(err).
			Component("timeseries").
			Category(errors.CategoryFileIO).
			Build()
	}
	return nil
}
