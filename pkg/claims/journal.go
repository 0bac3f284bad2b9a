package claims

import (
	"github.com/jiayi-1994/slotmap/pkg/logging"
	"github.com/jiayi-1994/slotmap/pkg/metrics"
	"github.com/jiayi-1994/slotmap/pkg/store"
)

// meteredJournal forwards index mutations to the store and counts them
type meteredJournal struct {
	store store.Store
}

func (j *meteredJournal) WriteAt(p []byte, off int64) (int, error) {
	n, err := j.store.WriteAt(p, off)
	metrics.RecordStoreWrite(j.store.Backend(), err)
	if err != nil {
		logging.LoggerForStore(j.store.Backend()).Error(err, "Failed to persist slot index", "offset", off, "length", len(p))
	}
	return n, err
}
