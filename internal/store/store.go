// Package store persists the acquisition catalogue and the refined burst
// inventory between runs in an embedded SQLite database.
package store

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mhelin/burstline/internal/errors"
	"github.com/mhelin/burstline/internal/geom"
	"github.com/mhelin/burstline/internal/inventory"
	"github.com/mhelin/burstline/internal/logging"
)

// Scene is one catalogued acquisition and its retrieval state.
type Scene struct {
	ID              uint   `gorm:"primaryKey"`
	SceneID         string `gorm:"uniqueIndex;not null"`
	Platform        string
	FlightDirection string
	RelativeOrbit   int `gorm:"index:idx_scenes_track"`
	StartTime       time.Time
	StopTime        time.Time
	FootprintWKT    string
	URL             string
	FileName        string
	SizeBytes       int64
	MD5             string
	LocalPath       string
	Downloaded      bool `gorm:"index:idx_scenes_downloaded"`
	VerifiedAt      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Burst is one persisted burst inventory row.
type Burst struct {
	ID           uint   `gorm:"primaryKey"`
	BID          string `gorm:"column:bid;index:idx_bursts_bid;uniqueIndex:idx_bursts_unit,priority:3"`
	SceneID      string `gorm:"index:idx_bursts_scene;uniqueIndex:idx_bursts_unit,priority:1"`
	Date         string `gorm:"uniqueIndex:idx_bursts_unit,priority:2"` // YYYYMMDD
	SwathID      string
	AnxTime      int
	BurstNr      int
	Direction    string
	Track        int
	FootprintWKT string
}

// Store wraps the database handle.
type Store struct {
	DB     *gorm.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the SQLite database at path and migrates
// the schema.
func Open(path string) (*Store, error) {
	logger := logging.ForService("store")
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.New(err).
			Component("store").
			Category(errors.CategoryFileIO).
			Build()
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, errors.Newf("failed to open database %s: %v", path, err).
			Component("store").
			Category(errors.CategoryDatabase).
			Build()
	}
	if err := db.AutoMigrate(&Scene{}, &Burst{}); err != nil {
		return nil, errors.Newf("schema migration failed: %v", err).
			Component("store").
			Category(errors.CategoryDatabase).
			Build()
	}
	return &Store{DB: db, logger: logger}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// UpsertScenes records search results, keeping the retrieval state of scenes
// already catalogued.
func (s *Store) UpsertScenes(scenes []Scene) error {
	if len(scenes) == 0 {
		return nil
	}
	err := s.DB.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "scene_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"platform", "flight_direction", "relative_orbit",
			"start_time", "stop_time", "footprint_wkt",
			"url", "file_name", "size_bytes", "md5", "updated_at",
		}),
	}).Create(&scenes).Error
	if err != nil {
		return errors.Newf("scene upsert failed: %v", err).
			Component("store").
			Category(errors.CategoryDatabase).
			Build()
	}
	return nil
}

// MarkDownloaded records a verified local copy of a scene.
func (s *Store) MarkDownloaded(sceneID, localPath string) error {
	now := time.Now().UTC()
	res := s.DB.Model(&Scene{}).
		Where("scene_id = ?", sceneID).
		Updates(map[string]any{
			"local_path":  localPath,
			"downloaded":  true,
			"verified_at": &now,
		})
	if res.Error != nil {
		return errors.Newf("marking %s downloaded failed: %v", sceneID, res.Error).
			Component("store").
			Category(errors.CategoryDatabase).
			Build()
	}
	if res.RowsAffected == 0 {
		return errors.Newf("scene %s is not catalogued", sceneID).
			Component("store").
			Category(errors.CategoryDatabase).
			Build()
	}
	return nil
}

// PendingScenes returns catalogued scenes without a verified local copy.
func (s *Store) PendingScenes() ([]Scene, error) {
	var scenes []Scene
	if err := s.DB.Where("downloaded = ?", false).Order("scene_id").Find(&scenes).Error; err != nil {
		return nil, errors.Newf("pending scene query failed: %v", err).
			Component("store").
			Category(errors.CategoryDatabase).
			Build()
	}
	return scenes, nil
}

// DownloadedScenes returns scenes with a verified local copy, ordered by
// scene id.
func (s *Store) DownloadedScenes() ([]Scene, error) {
	var scenes []Scene
	if err := s.DB.Where("downloaded = ?", true).Order("scene_id").Find(&scenes).Error; err != nil {
		return nil, errors.Newf("downloaded scene query failed: %v", err).
			Component("store").
			Category(errors.CategoryDatabase).
			Build()
	}
	return scenes, nil
}

// ReplaceInventory atomically replaces the persisted burst inventory with
// the given refined table. The inventory is always written whole; partial
// inventories from interrupted runs must not survive.
func (s *Store) ReplaceInventory(table *inventory.Table) error {
	records := make([]Burst, 0, len(table.Rows))
	for i := range table.Rows {
		r := &table.Rows[i]
		records = append(records, Burst{
			BID:          r.BID,
			SceneID:      r.SceneID,
			Date:         r.DateKey(),
			SwathID:      r.SwathID,
			AnxTime:      r.AnxTime,
			BurstNr:      r.BurstNr,
			Direction:    r.Direction,
			Track:        r.Track,
			FootprintWKT: r.Footprint.WKT(),
		})
	}

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&Burst{}).Error; err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		return tx.CreateInBatches(&records, 200).Error
	})
	if err != nil {
		return errors.Newf("inventory replace failed: %v", err).
			Component("store").
			Category(errors.CategoryDatabase).
			Build()
	}
	s.logger.Info("burst inventory persisted", "rows", len(records))
	return nil
}

// LoadInventory reads the persisted burst inventory back into a table, in
// insertion order.
func (s *Store) LoadInventory() (*inventory.Table, error) {
	var records []Burst
	if err := s.DB.Order("id").Find(&records).Error; err != nil {
		return nil, errors.Newf("inventory query failed: %v", err).
			Component("store").
			Category(errors.CategoryDatabase).
			Build()
	}

	table := &inventory.Table{Rows: make([]inventory.Row, 0, len(records))}
	for i := range records {
		rec := &records[i]
		date, err := time.Parse("20060102", rec.Date)
		if err != nil {
			return nil, errors.Newf("stored burst %s has malformed date %q", rec.BID, rec.Date).
				Component("store").
				Category(errors.CategoryDatabase).
				Build()
		}
		row := inventory.Row{
			BID:       rec.BID,
			SceneID:   rec.SceneID,
			Date:      date,
			SwathID:   rec.SwathID,
			AnxTime:   rec.AnxTime,
			BurstNr:   rec.BurstNr,
			Direction: rec.Direction,
			Track:     rec.Track,
		}
		if rec.FootprintWKT != "" {
			fp, err := geom.ParseWKTPolygon(rec.FootprintWKT)
			if err != nil {
				return nil, errors.Newf("stored burst %s has malformed footprint: %v", rec.BID, err).
					Component("store").
					Category(errors.CategoryDatabase).
					Build()
			}
			row.Footprint = fp
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}
