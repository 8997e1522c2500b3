package dicom

import (
	"fmt"
	"strconv"

	dcm "github.com/suyashkumar/dicom"
)

// LoadFile parses a DICOM file. Sequence and binary attributes other than
// the pixel data are not carried over.
func LoadFile(path string) (*Dataset, error) {
	parsed, err := dcm.ParseFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	ds := NewDataset()
	ds.Path = path
	for _, el := range parsed.Elements {
		if el == nil || el.Value == nil {
			continue
		}
		tag := NewTag(el.Tag.Group, el.Tag.Element)

		switch el.Value.ValueType() {
		case dcm.Strings:
			ds.Set(tag, dcm.MustGetStrings(el.Value)...)
		case dcm.Ints:
			ints := dcm.MustGetInts(el.Value)
			values := make([]string, len(ints))
			for i, n := range ints {
				values[i] = strconv.Itoa(n)
			}
			ds.Set(tag, values...)
		case dcm.Floats:
			floats := dcm.MustGetFloats(el.Value)
			values := make([]string, len(floats))
			for i, f := range floats {
				values[i] = strconv.FormatFloat(f, 'f', -1, 64)
			}
			ds.Set(tag, values...)
		case dcm.PixelData:
			info := dcm.MustGetPixelDataInfo(el.Value)
			for _, frame := range info.Frames {
				if frame.Encapsulated {
					ds.PixelData = append(ds.PixelData, frame.EncapsulatedData.Data)
				}
			}
		}
	}
	return ds, nil
}
