package imagepref

import (
	"errors"
	"fmt"
)

var (
	// ErrImport is returned when the bootstrap index cannot be fetched or parsed.
	ErrImport = errors.New("imagepref: import failed")

	// ErrSelection is returned by decision actions when no image is selected.
	ErrSelection = errors.New("imagepref: no image selected")

	// ErrExtraction is returned when an image cannot be fetched, decoded or embedded.
	ErrExtraction = errors.New("imagepref: feature extraction failed")

	// ErrTraining is returned when the classifier refuses or fails to fit.
	ErrTraining = errors.New("imagepref: training failed")

	// ErrInsufficientData is returned when fewer choices than the training minimum exist.
	ErrInsufficientData = fmt.Errorf("%w: insufficient data", ErrTraining)

	// ErrPrediction is returned when the classifier cannot score an embedding.
	ErrPrediction = errors.New("imagepref: prediction failed")

	// ErrNotTrained is returned when predictions are requested from an untrained classifier.
	ErrNotTrained = fmt.Errorf("%w: classifier not trained", ErrPrediction)

	// ErrPersistence is returned on store write conflicts such as duplicate keys.
	ErrPersistence = errors.New("imagepref: persistence failed")

	// ErrNotFound is returned when a store has no document with the requested id.
	ErrNotFound = errors.New("imagepref: not found")
)
