package mongodriver

import (
	"errors"

	"github.com/dosco/docjin/core"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// storeError wraps a driver error in core.StoreError with the server error
// code when the driver exposes one.
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	return core.NewStoreError(op, errorCode(err), err)
}

func errorCode(err error) int {
	var ce mongo.CommandError
	if errors.As(err, &ce) {
		return int(ce.Code)
	}

	var we mongo.WriteException
	if errors.As(err, &we) {
		if len(we.WriteErrors) != 0 {
			return we.WriteErrors[0].Code
		}
		if we.WriteConcernError != nil {
			return we.WriteConcernError.Code
		}
	}

	var bwe mongo.BulkWriteException
	if errors.As(err, &bwe) && len(bwe.WriteErrors) != 0 {
		return bwe.WriteErrors[0].Code
	}
	return 0
}
