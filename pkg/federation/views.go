package federation

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/ekaya-federation/pkg/metastore"
	"github.com/ekaya-inc/ekaya-federation/pkg/models"
)

const viewScanParallelism = 8

// ViewInvalidator marks views unusable when a table they read is dropped.
// Invalidation is one-directional; a view only becomes valid again when it
// is redefined.
type ViewInvalidator struct {
	directory metastore.Directory
	logger    *zap.Logger
}

// NewViewInvalidator creates a ViewInvalidator over every database in directory.
func NewViewInvalidator(directory metastore.Directory, logger *zap.Logger) *ViewInvalidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ViewInvalidator{directory: directory, logger: logger}
}

// InactiveViews invalidates every view that references one of the dropped
// tables and returns the views it invalidated. Databases that disappear
// during the scan are skipped.
func (v *ViewInvalidator) InactiveViews(ctx context.Context, dropped []models.TableName, reason string) ([]*models.View, error) {
	if v.directory == nil || len(dropped) == 0 {
		return nil, nil
	}

	targets := make(map[models.TableName]struct{}, len(dropped))
	for _, name := range dropped {
		targets[name.Normalize()] = struct{}{}
	}

	var (
		mu          sync.Mutex
		invalidated []*models.View
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(viewScanParallelism)
	for _, dbID := range v.directory.DatabaseIDs() {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			db := v.directory.Database(dbID)
			if db == nil {
				return nil
			}
			for _, view := range v.directory.Views(dbID) {
				if !referencesAny(view, targets) {
					continue
				}
				view.SetInvalid(reason)
				v.logger.Info("Invalidated view",
					zap.String("db", db.Name),
					zap.String("view", view.Name),
					zap.String("reason", reason))

				mu.Lock()
				invalidated = append(invalidated, view)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return invalidated, err
	}
	return invalidated, nil
}

func referencesAny(view *models.View, targets map[models.TableName]struct{}) bool {
	for _, ref := range view.TableRefs() {
		if _, ok := targets[ref.Normalize()]; ok {
			return true
		}
	}
	return false
}
