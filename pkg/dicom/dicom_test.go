package dicom

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDataset(studyUID, sopUID string) *Dataset {
	ds := NewDataset()
	ds.Path = sopUID + ".dcm"
	ds.Set(TagTransferSyntaxUID, JPEG2000Lossless)
	ds.Set(TagStudyInstanceUID, studyUID)
	ds.Set(TagSeriesInstanceUID, "1.2.3.4")
	ds.Set(TagSOPInstanceUID, sopUID)
	ds.Set(TagSOPClassUID, "1.2.840.10008.5.1.4.1.1.1.1")
	ds.Set(TagAccessionNumber, "ACC1 ")
	ds.Set(TagPatientID, "PID1")
	ds.Set(TagSeriesNumber, "3")
	ds.Set(TagRows, "2048")
	ds.Set(TagColumns, "1024")
	ds.Set(TagSamplesPerPixel, "1")
	ds.Set(TagPhotometricInterpretation, "MONOCHROME2")
	ds.Set(TagBitsAllocated, "16")
	ds.Set(TagBitsStored, "12")
	ds.Set(TagHighBit, "11")
	ds.PixelData = [][]byte{[]byte("abc"), []byte("def")}
	return ds
}

func TestTag(t *testing.T) {
	tag := NewTag(0x0020, 0x000D)
	assert.Equal(t, TagStudyInstanceUID, tag)
	assert.Equal(t, "(0020,000D)", tag.String())
	assert.Equal(t, uint16(0x0020), tag.Group())
	assert.Equal(t, uint16(0x000D), tag.Element())
}

func TestDatasetAccessors(t *testing.T) {
	ds := NewDataset()
	assert.Equal(t, "", ds.Value(TagAccessionNumber))

	ds.Set(TagAccessionNumber, " ACC9 ")
	assert.Equal(t, "ACC9", ds.Value(TagAccessionNumber))
	assert.True(t, ds.Has(TagAccessionNumber))

	ds.Set(TagTransferSyntaxUID, JPEG2000Lossless+"\x00")
	assert.Equal(t, JPEG2000Lossless, ds.TransferSyntaxUID)
	assert.Equal(t, []Tag{TagTransferSyntaxUID, TagAccessionNumber}, ds.Tags())

	ds.Delete(TagAccessionNumber)
	assert.False(t, ds.Has(TagAccessionNumber))
}

func TestFieldDecode(t *testing.T) {
	ds := NewDataset()
	ds.Set(TagRows, "512 ")
	ds.Set(TagRescaleSlope, "1.5")
	ds.Set(TagPixelSpacing, "0.1", "0.2")

	rows, err := Fields["rows"].Decode(ds)
	require.NoError(t, err)
	assert.Equal(t, 512, rows)

	slope, err := Fields["rescaleSlope"].Decode(ds)
	require.NoError(t, err)
	assert.Equal(t, 1.5, slope)

	spacing, err := Fields["pixelSpacing"].Decode(ds)
	require.NoError(t, err)
	assert.Equal(t, "0.1,0.2", spacing)

	missing, err := Fields["patientName"].Decode(ds)
	require.NoError(t, err)
	assert.Nil(t, missing)

	ds.Set(TagColumns, "wide")
	_, err = Fields["columns"].Decode(ds)
	assert.Error(t, err)
}

func TestVisionRequest(t *testing.T) {
	first := sampleDataset("1.2.3", "1.2.3.4.1")
	second := sampleDataset("1.2.3", "1.2.3.4.2")
	second.Set(TagRescaleSlope, "2")
	second.Set(TagRescaleIntercept, "-1024")

	req, err := VisionRequest([]*Dataset{first, second})
	require.NoError(t, err)

	study := req["study"].(map[string]interface{})
	assert.Equal(t, map[string]interface{}{
		"studyInstanceUid": "1.2.3",
		"accessionNumber":  "ACC1",
		"patientId":        "PID1",
	}, study)

	assert.Equal(t, map[string]interface{}{
		"seriesInstanceUid": "1.2.3.4",
		"seriesNumber":      3,
	}, req["series"])
	assert.Equal(t, map[string]interface{}{}, req["scan"])

	images := req["images"].([]map[string]interface{})
	require.Len(t, images, 2)
	assert.Equal(t, "1.2.3.4.1", images[0]["imageInstanceUid"])
	assert.Equal(t, 2048, images[0]["height"])
	assert.Equal(t, 1024, images[0]["width"])
	assert.Equal(t, 1.0, images[0]["rescaleSlope"])
	assert.Equal(t, 0.0, images[0]["rescaleIntercept"])
	assert.Equal(t, 2.0, images[1]["rescaleSlope"])
	assert.Equal(t, -1024.0, images[1]["rescaleIntercept"])
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("abcdef")), images[0]["data"])
	assert.NotContains(t, images[0], "timezoneOffsetFromUtc")
}

func TestVisionRequestRejectsMixedStudies(t *testing.T) {
	_, err := VisionRequest([]*Dataset{sampleDataset("1.2.3", "a"), sampleDataset("9.9.9", "b")})
	assert.Error(t, err)

	_, err = VisionRequest(nil)
	assert.Error(t, err)
}

func TestVisionRequestRequiresJPEG2000(t *testing.T) {
	ds := sampleDataset("1.2.3", "a")
	ds.Set(TagTransferSyntaxUID, "1.2.840.10008.1.2.1")

	_, err := VisionRequest([]*Dataset{ds})
	assert.ErrorIs(t, err, ErrUnsupportedTransferSyntax)
	assert.Equal(t, "a.dcm: "+ErrUnsupportedTransferSyntax.Error(), err.Error())

	ds.Path = ""
	_, err = VisionRequest([]*Dataset{ds})
	assert.Equal(t, ErrUnsupportedTransferSyntax.Error(), err.Error())
}

func TestPatientAge(t *testing.T) {
	ds := NewDataset()
	assert.Equal(t, "", PatientAge(ds))

	ds.Set(TagPatientBirthDate, "19800115")
	ds.Set(TagStudyDate, "20250114")
	assert.Equal(t, "044Y", PatientAge(ds))

	ds.Set(TagStudyDate, "20250115")
	assert.Equal(t, "045Y", PatientAge(ds))

	ds.Set(TagPatientAge, "050Y")
	assert.Equal(t, "050Y", PatientAge(ds))
}

func TestGroupByField(t *testing.T) {
	a1 := sampleDataset("A", "1")
	b1 := sampleDataset("B", "2")
	a2 := sampleDataset("A", "3")

	groups, err := GroupByField([]*Dataset{a1, b1, a2}, "StudyInstanceUID")
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "A", groups[0].Key)
	assert.Equal(t, []*Dataset{a1, a2}, groups[0].Datasets)
	assert.Equal(t, "B", groups[1].Key)

	_, err = GroupByField(nil, "NoSuchKeyword")
	assert.Error(t, err)
}

func TestIdentifiers(t *testing.T) {
	uid := NewUID()
	assert.Regexp(t, regexp.MustCompile(`^2\.25\.[0-9]+$`), uid)
	assert.LessOrEqual(t, len(uid), 64)
	assert.NotEqual(t, uid, NewUID())

	token := NewToken()
	assert.Len(t, token, 16)
	assert.Regexp(t, regexp.MustCompile(`^[0-9A-Z]{16}$`), token)
	assert.NotEqual(t, token, NewToken())
}

func TestFindFiles(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "nested")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	for _, name := range []string{filepath.Join(dir, "b.dcm"), filepath.Join(nested, "a.DCM"), filepath.Join(dir, "notes.txt")} {
		require.NoError(t, os.WriteFile(name, []byte("x"), 0o644))
	}

	files, err := FindFiles(dir, "dcm")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "b.dcm"), filepath.Join(nested, "a.DCM")}, files)
}
