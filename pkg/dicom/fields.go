package dicom

import (
	"fmt"
	"strconv"
	"strings"
)

type Kind int

const (
	KindString Kind = iota
	KindUID
	KindInt
	KindFloat
	KindMulti
	KindPersonName
)

// Field binds a request attribute to the tag it is read from and the way
// its value is decoded.
type Field struct {
	Tag  Tag
	Kind Kind
}

// Decode reads the field from ds. An absent attribute yields nil.
func (f Field) Decode(ds *Dataset) (interface{}, error) {
	values, ok := ds.Get(f.Tag)
	if !ok || len(values) == 0 {
		return nil, nil
	}
	first := strings.TrimRight(strings.TrimSpace(values[0]), "\x00")

	switch f.Kind {
	case KindInt:
		n, err := strconv.Atoi(first)
		if err != nil {
			return nil, fmt.Errorf("decoding %s as integer: %w", f.Tag, err)
		}
		return n, nil
	case KindFloat:
		v, err := strconv.ParseFloat(first, 64)
		if err != nil {
			return nil, fmt.Errorf("decoding %s as float: %w", f.Tag, err)
		}
		return v, nil
	case KindMulti:
		trimmed := make([]string, len(values))
		for i, v := range values {
			trimmed[i] = strings.TrimSpace(v)
		}
		return strings.Join(trimmed, ","), nil
	default:
		return first, nil
	}
}

var Fields = map[string]Field{
	"rescaleIntercept":            {TagRescaleIntercept, KindFloat},
	"rescaleSlope":                {TagRescaleSlope, KindFloat},
	"imageNumber":                 {TagInstanceNumber, KindInt},
	"photometricInterpretation":   {TagPhotometricInterpretation, KindString},
	"samplesPerPixel":             {TagSamplesPerPixel, KindInt},
	"bodyPartExamined":            {TagBodyPartExamined, KindString},
	"imageInstanceUid":            {TagSOPInstanceUID, KindUID},
	"sopClassUid":                 {TagSOPClassUID, KindUID},
	"patientId":                   {TagPatientID, KindString},
	"studyDescription":            {TagStudyDescription, KindString},
	"accessionNumber":             {TagAccessionNumber, KindString},
	"studyInstanceUid":            {TagStudyInstanceUID, KindUID},
	"seriesNumber":                {TagSeriesNumber, KindInt},
	"seriesDescription":           {TagSeriesDescription, KindString},
	"seriesInstanceUid":           {TagSeriesInstanceUID, KindUID},
	"patientBirthDate":            {TagPatientBirthDate, KindString},
	"patientAge":                  {TagPatientAge, KindString},
	"patientBirthTime":            {TagPatientBirthTime, KindString},
	"patientSex":                  {TagPatientSex, KindString},
	"modalitySoftwareVersion":     {TagSoftwareVersions, KindMulti},
	"modality":                    {TagModality, KindString},
	"model":                       {TagManufacturerModelName, KindString},
	"manufacturer":                {TagManufacturer, KindString},
	"bitsAllocated":               {TagBitsAllocated, KindInt},
	"bitsStored":                  {TagBitsStored, KindInt},
	"highBit":                     {TagHighBit, KindInt},
	"rows":                        {TagRows, KindInt},
	"columns":                     {TagColumns, KindInt},
	"acquisitionDate":             {TagAcquisitionDate, KindString},
	"acquisitionTime":             {TagAcquisitionTime, KindString},
	"institutionName":             {TagInstitutionName, KindString},
	"institutionAddress":          {TagInstitutionAddress, KindString},
	"institutionalDepartmentName": {TagInstitutionalDepartment, KindString},
	"studyDate":                   {TagStudyDate, KindString},
	"studyTime":                   {TagStudyTime, KindString},
	"patientName":                 {TagPatientName, KindPersonName},
	"seriesDate":                  {TagSeriesDate, KindString},
	"seriesTime":                  {TagSeriesTime, KindString},
	"kvp":                         {TagKVP, KindString},
	"exposure":                    {TagExposureInuAs, KindString},
	"exposureIndex":               {TagExposureIndex, KindString},
	"deviationIndex":              {TagDeviationIndex, KindString},
	"pixelSpacing":                {TagPixelSpacing, KindMulti},
	"imagerPixelSpacing":          {TagImagerPixelSpacing, KindMulti},
	"spacialResolution":           {TagSpatialResolution, KindString},
	"detectorType":                {TagDetectorType, KindString},
	"grid":                        {TagGrid, KindMulti},
	"viewPosition":                {TagViewPosition, KindString},
	"timezoneOffsetFromUtc":       {TagTimezoneOffsetFromUTC, KindString},
}

// fieldValue decodes a named field, panicking on a name missing from Fields.
func fieldValue(name string, ds *Dataset) (interface{}, error) {
	field, ok := Fields[name]
	if !ok {
		panic("dicom: unknown field " + name)
	}
	return field.Decode(ds)
}
