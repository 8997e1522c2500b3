package dicom

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"time"
)

const JPEG2000Lossless = "1.2.840.10008.1.2.4.90"

var ErrUnsupportedTransferSyntax = errors.New("pixel data is not JPEG 2000 lossless encoded")

const dateLayout = "20060102"

// VisionRequest builds the upload payload for one study: study and series
// attributes from the first member, one image entry per member.
func VisionRequest(batch []*Dataset) (map[string]interface{}, error) {
	if len(batch) == 0 {
		return nil, errors.New("empty study batch")
	}
	studyUID := batch[0].Value(TagStudyInstanceUID)
	for _, ds := range batch[1:] {
		if ds.Value(TagStudyInstanceUID) != studyUID {
			return nil, fmt.Errorf("batch spans more than one study: %q and %q", studyUID, ds.Value(TagStudyInstanceUID))
		}
	}

	study, err := extractStudy(batch[0])
	if err != nil {
		return nil, err
	}
	series, err := extract(batch[0], "seriesInstanceUid", "seriesNumber")
	if err != nil {
		return nil, err
	}

	images := make([]map[string]interface{}, 0, len(batch))
	for _, ds := range batch {
		image, err := extractImage(ds)
		if err != nil {
			if ds.Path != "" {
				err = fmt.Errorf("%s: %w", ds.Path, err)
			}
			return nil, err
		}
		images = append(images, image)
	}

	return map[string]interface{}{
		"study":  study,
		"series": series,
		"scan":   map[string]interface{}{},
		"images": images,
	}, nil
}

func extractStudy(ds *Dataset) (map[string]interface{}, error) {
	study, err := extract(ds, "studyInstanceUid", "accessionNumber", "patientId")
	if err != nil {
		return nil, err
	}
	description, err := fieldValue("studyDescription", ds)
	if err != nil {
		return nil, err
	}
	if description != nil {
		study["description"] = description
	}
	if age := PatientAge(ds); age != "" {
		study["patientAge"] = age
	}
	return study, nil
}

func extractImage(ds *Dataset) (map[string]interface{}, error) {
	if ds.TransferSyntaxUID != JPEG2000Lossless {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTransferSyntax, ds.TransferSyntaxUID)
	}
	if len(ds.PixelData) == 0 {
		return nil, errors.New("no pixel data")
	}

	image, err := extract(ds,
		"imageInstanceUid",
		"sopClassUid",
		"photometricInterpretation",
		"samplesPerPixel",
		"bitsAllocated",
		"bitsStored",
		"highBit",
		"spacialResolution",
		"timezoneOffsetFromUtc",
	)
	if err != nil {
		return nil, err
	}

	for key, name := range map[string]string{"height": "rows", "width": "columns"} {
		v, err := fieldValue(name, ds)
		if err != nil {
			return nil, err
		}
		if v != nil {
			image[key] = v
		}
	}

	image["rescaleSlope"] = 1.0
	image["rescaleIntercept"] = 0.0
	for _, name := range []string{"rescaleSlope", "rescaleIntercept"} {
		v, err := fieldValue(name, ds)
		if err != nil {
			return nil, err
		}
		if v != nil {
			image[name] = v
		}
	}

	image["data"] = base64.StdEncoding.EncodeToString(ds.Pixels())
	return image, nil
}

// extract decodes the named fields, leaving absent ones out.
func extract(ds *Dataset, names ...string) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(names))
	for _, name := range names {
		v, err := fieldValue(name, ds)
		if err != nil {
			return nil, err
		}
		if v != nil {
			out[name] = v
		}
	}
	return out, nil
}

// PatientAge returns PatientAge when set, otherwise the age in whole years
// between PatientBirthDate and StudyDate formatted as "NNNY". It returns ""
// when neither source is usable.
func PatientAge(ds *Dataset) string {
	if age := ds.Value(TagPatientAge); age != "" {
		return age
	}
	studyDate, err := time.Parse(dateLayout, ds.Value(TagStudyDate))
	if err != nil {
		return ""
	}
	birthDate, err := time.Parse(dateLayout, ds.Value(TagPatientBirthDate))
	if err != nil {
		return ""
	}
	days := studyDate.Sub(birthDate).Hours() / 24
	years := int(math.Floor(days / 365.25))
	return fmt.Sprintf("%03dY", years)
}
