package upload

import (
	"github.com/synaptica-ai/vision-uploader/pkg/dicom"
)

// Remap rewrites the identity of a single-study batch in place and returns
// one correlation entry per member.
//
// With regenerate set, the patient id and accession become fresh 16
// character tokens and the study UID a new 2.25 UID; every member also gets
// a new series and SOP instance UID. forceAccessionEqualStudy makes the
// accession equal to the (possibly new) study UID.
func Remap(batch []*dicom.Dataset, regenerate, forceAccessionEqualStudy bool) []Entry {
	if len(batch) == 0 {
		return nil
	}
	first := batch[0]

	newPatientID := first.Value(dicom.TagPatientID)
	newStudyUID := first.Value(dicom.TagStudyInstanceUID)
	if regenerate {
		newPatientID = dicom.NewToken()
		newStudyUID = dicom.NewUID()
	}

	var newAccession string
	switch {
	case forceAccessionEqualStudy:
		newAccession = newStudyUID
	case regenerate:
		newAccession = dicom.NewToken()
	default:
		newAccession = first.Value(dicom.TagAccessionNumber)
	}

	entries := make([]Entry, 0, len(batch))
	for _, ds := range batch {
		newSeriesUID := ds.Value(dicom.TagSeriesInstanceUID)
		newSOPUID := ds.Value(dicom.TagSOPInstanceUID)
		if regenerate {
			newSeriesUID = dicom.NewUID()
			newSOPUID = dicom.NewUID()
		}

		entries = append(entries, Entry{
			OriginalAccession: ds.Value(dicom.TagAccessionNumber),
			OriginalPatientID: ds.Value(dicom.TagPatientID),
			OriginalStudyUID:  ds.Value(dicom.TagStudyInstanceUID),
			OriginalSeriesUID: ds.Value(dicom.TagSeriesInstanceUID),
			OriginalSOPUID:    ds.Value(dicom.TagSOPInstanceUID),
			NewAccession:      newAccession,
			NewPatientID:      newPatientID,
			NewStudyUID:       newStudyUID,
			NewSeriesUID:      newSeriesUID,
			NewSOPUID:         newSOPUID,
		})

		ds.Set(dicom.TagAccessionNumber, newAccession)
		ds.Set(dicom.TagStudyInstanceUID, newStudyUID)
		ds.Set(dicom.TagPatientID, newPatientID)
		ds.Set(dicom.TagSeriesInstanceUID, newSeriesUID)
		ds.Set(dicom.TagSOPInstanceUID, newSOPUID)
	}
	return entries
}
