// Package dicom holds the subset of a DICOM object the uploader works with:
// header attributes addressed by tag, the transfer syntax, and the
// encapsulated pixel data fragments.
package dicom

import (
	"fmt"
	"sort"
	"strings"
)

// Tag is a DICOM attribute address, group in the high 16 bits.
type Tag uint32

func NewTag(group, element uint16) Tag {
	return Tag(uint32(group)<<16 | uint32(element))
}

func (t Tag) Group() uint16   { return uint16(t >> 16) }
func (t Tag) Element() uint16 { return uint16(t) }

func (t Tag) String() string {
	return fmt.Sprintf("(%04X,%04X)", t.Group(), t.Element())
}

const (
	TagTransferSyntaxUID         Tag = 0x00020010
	TagSOPClassUID               Tag = 0x00080016
	TagSOPInstanceUID            Tag = 0x00080018
	TagStudyDate                 Tag = 0x00080020
	TagSeriesDate                Tag = 0x00080021
	TagAcquisitionDate           Tag = 0x00080022
	TagStudyTime                 Tag = 0x00080030
	TagSeriesTime                Tag = 0x00080031
	TagAcquisitionTime           Tag = 0x00080032
	TagAccessionNumber           Tag = 0x00080050
	TagModality                  Tag = 0x00080060
	TagManufacturer              Tag = 0x00080070
	TagInstitutionName           Tag = 0x00080080
	TagInstitutionAddress        Tag = 0x00080081
	TagStudyDescription          Tag = 0x00081030
	TagSeriesDescription         Tag = 0x0008103E
	TagInstitutionalDepartment   Tag = 0x00081040
	TagManufacturerModelName     Tag = 0x00081090
	TagPatientName               Tag = 0x00100010
	TagPatientID                 Tag = 0x00100020
	TagPatientBirthDate          Tag = 0x00100030
	TagPatientBirthTime          Tag = 0x00100032
	TagPatientSex                Tag = 0x00100040
	TagPatientAge                Tag = 0x00101010
	TagBodyPartExamined          Tag = 0x00180015
	TagKVP                       Tag = 0x00180060
	TagTimezoneOffsetFromUTC     Tag = 0x00180201
	TagSoftwareVersions          Tag = 0x00181020
	TagSpatialResolution         Tag = 0x00181050
	TagExposureInuAs             Tag = 0x00181153
	TagImagerPixelSpacing        Tag = 0x00181164
	TagGrid                      Tag = 0x00181166
	TagExposureIndex             Tag = 0x00181411
	TagDeviationIndex            Tag = 0x00181413
	TagViewPosition              Tag = 0x00185101
	TagDetectorType              Tag = 0x00187004
	TagStudyInstanceUID          Tag = 0x0020000D
	TagSeriesInstanceUID         Tag = 0x0020000E
	TagSeriesNumber              Tag = 0x00200011
	TagInstanceNumber            Tag = 0x00200013
	TagSamplesPerPixel           Tag = 0x00280002
	TagPhotometricInterpretation Tag = 0x00280004
	TagRows                      Tag = 0x00280010
	TagColumns                   Tag = 0x00280011
	TagPixelSpacing              Tag = 0x00280030
	TagBitsAllocated             Tag = 0x00280100
	TagBitsStored                Tag = 0x00280101
	TagHighBit                   Tag = 0x00280102
	TagRescaleIntercept          Tag = 0x00281052
	TagRescaleSlope              Tag = 0x00281053
	TagPixelData                 Tag = 0x7FE00010
)

var keywords = map[string]Tag{
	"TransferSyntaxUID":         TagTransferSyntaxUID,
	"SOPClassUID":               TagSOPClassUID,
	"SOPInstanceUID":            TagSOPInstanceUID,
	"StudyDate":                 TagStudyDate,
	"SeriesDate":                TagSeriesDate,
	"AccessionNumber":           TagAccessionNumber,
	"Modality":                  TagModality,
	"Manufacturer":              TagManufacturer,
	"InstitutionName":           TagInstitutionName,
	"StudyDescription":          TagStudyDescription,
	"SeriesDescription":         TagSeriesDescription,
	"ManufacturerModelName":     TagManufacturerModelName,
	"PatientName":               TagPatientName,
	"PatientID":                 TagPatientID,
	"PatientBirthDate":          TagPatientBirthDate,
	"PatientSex":                TagPatientSex,
	"PatientAge":                TagPatientAge,
	"BodyPartExamined":          TagBodyPartExamined,
	"ViewPosition":              TagViewPosition,
	"StudyInstanceUID":          TagStudyInstanceUID,
	"SeriesInstanceUID":         TagSeriesInstanceUID,
	"SeriesNumber":              TagSeriesNumber,
	"InstanceNumber":            TagInstanceNumber,
	"PhotometricInterpretation": TagPhotometricInterpretation,
	"Rows":                      TagRows,
	"Columns":                   TagColumns,
}

// LookupKeyword resolves a standard attribute keyword such as
// "StudyInstanceUID" to its tag.
func LookupKeyword(keyword string) (Tag, bool) {
	tag, ok := keywords[keyword]
	return tag, ok
}

// Dataset is one parsed DICOM object. Attribute values are kept in their
// textual form; numeric attributes are formatted when loaded.
type Dataset struct {
	Path              string
	TransferSyntaxUID string
	// PixelData holds the encapsulated fragments in file order.
	PixelData [][]byte

	elements map[Tag][]string
}

func NewDataset() *Dataset {
	return &Dataset{elements: make(map[Tag][]string)}
}

func (d *Dataset) Get(tag Tag) ([]string, bool) {
	values, ok := d.elements[tag]
	return values, ok
}

func (d *Dataset) Has(tag Tag) bool {
	_, ok := d.elements[tag]
	return ok
}

// Value returns the first value of tag with DICOM padding trimmed, or "".
func (d *Dataset) Value(tag Tag) string {
	values := d.elements[tag]
	if len(values) == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimSpace(values[0]), "\x00")
}

func (d *Dataset) Set(tag Tag, values ...string) {
	if d.elements == nil {
		d.elements = make(map[Tag][]string)
	}
	d.elements[tag] = values
	if tag == TagTransferSyntaxUID && len(values) > 0 {
		d.TransferSyntaxUID = strings.TrimRight(strings.TrimSpace(values[0]), "\x00")
	}
}

func (d *Dataset) Delete(tag Tag) {
	delete(d.elements, tag)
}

// Tags lists the attributes present, in ascending order.
func (d *Dataset) Tags() []Tag {
	tags := make([]Tag, 0, len(d.elements))
	for tag := range d.elements {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}

// Pixels concatenates the pixel data fragments.
func (d *Dataset) Pixels() []byte {
	size := 0
	for _, fragment := range d.PixelData {
		size += len(fragment)
	}
	out := make([]byte, 0, size)
	for _, fragment := range d.PixelData {
		out = append(out, fragment...)
	}
	return out
}
