package trainer

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// LogFileName is the plain-text evaluation log kept in the save directory.
const LogFileName = "training_log.txt"

const timestampLayout = "2006-01-02-15-04-05"

// TrainingLog appends evaluation points to training_log.txt.
type TrainingLog struct {
	f *os.File
}

// CreateTrainingLog truncates dir/training_log.txt and writes the run header.
func CreateTrainingLog(dir string, learningRate float64, epochs, batchSize int) (*TrainingLog, error) {
	f, err := os.Create(filepath.Join(dir, LogFileName))
	if err != nil {
		return nil, errors.Wrap(err, "trainer: create training log")
	}
	if _, err := fmt.Fprintf(f, "Learning Rate:%f\tEpoch Number:%d\tBatch Size:%d\n", learningRate, epochs, batchSize); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "trainer: write training log header")
	}
	return &TrainingLog{f: f}, nil
}

// Validation records a validation loss.
func (l *TrainingLog) Validation(ts time.Time, seen, epoch int, loss float64) error {
	return l.write(ts, seen, epoch, "Validation", loss)
}

// Training records a training loss.
func (l *TrainingLog) Training(ts time.Time, seen, epoch int, loss float64) error {
	return l.write(ts, seen, epoch, "Training", loss)
}

func (l *TrainingLog) write(ts time.Time, seen, epoch int, kind string, loss float64) error {
	_, err := fmt.Fprintf(l.f, "%s: num_examples_seen: %d\tepoch: %d\t%s Loss: %f\n",
		ts.Format(timestampLayout), seen, epoch, kind, loss)
	return errors.Wrap(err, "trainer: write training log")
}

// Close flushes and closes the file.
func (l *TrainingLog) Close() error {
	return l.f.Close()
}
