package collector

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/portalwatch/internal/common"
	"github.com/ternarybob/portalwatch/internal/models"
	"github.com/ternarybob/portalwatch/internal/storage/dedup"
)

// itemKey identifies a listing by portal id, falling back to title+seller+price
func itemKey(fields map[string]string) string {
	if key := dedup.KeyFromFields(fields, models.FieldItemID); key != "" {
		return "id:" + key
	}
	return dedup.KeyFromFields(fields, models.FieldTitle, models.FieldSeller, models.FieldPrice)
}

// leadKey identifies a lead by portal id, falling back to title+seller
func leadKey(fields map[string]string) string {
	if key := dedup.KeyFromFields(fields, models.FieldItemID); key != "" {
		return "id:" + key
	}
	return dedup.KeyFromFields(fields, models.FieldTitle, models.FieldSeller)
}

// OpenStores opens the listings, actions, leads and digests stores under the data dir
func OpenStores(cfg common.StorageConfig, clock common.Clock, logger arbor.ILogger) (dedup.Set, error) {
	coalesce := common.ParseDurationOr(cfg.CoalesceDelay, 500*time.Millisecond)

	specs := []dedup.Options{
		{Name: models.StoreListings, KeyFunc: itemKey},
		{Name: models.StoreActions, KeyFields: []string{models.FieldRule, models.FieldListingKey}},
		{Name: models.StoreLeads, KeyFunc: leadKey, MergeBlankFields: true},
		{Name: models.StoreDigests, KeyFields: []string{models.FieldDay, models.FieldSlot, models.FieldRun}},
	}

	set := make(dedup.Set, len(specs))
	for _, opts := range specs {
		opts.Path = filepath.Join(cfg.DataDir, opts.Name+".json")
		opts.CoalesceDelay = coalesce
		opts.Clock = clock

		store, err := dedup.Open(opts, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s store: %w", opts.Name, err)
		}
		set[opts.Name] = store
	}
	return set, nil
}
