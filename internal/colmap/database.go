// Package colmap writes and reads the SQLite database consumed by the
// COLMAP binary, and invokes its matches_importer command. The schema
// and blob encodings are owned by COLMAP; this package only mirrors
// them.
package colmap

import (
	"database/sql"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the COLMAP database file.
type DB struct {
	*sql.DB
}

// maxNumImages bounds image ids so pair ids fit a signed 64-bit
// integer; it is part of COLMAP's pair_id encoding.
const maxNumImages int64 = 2147483647

// Open opens (creating if needed) a COLMAP database and ensures its
// schema exists.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS cameras (
			camera_id           INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL,
			model               INTEGER NOT NULL,
			width               INTEGER NOT NULL,
			height              INTEGER NOT NULL,
			params              BLOB,
			prior_focal_length  INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS images (
			image_id            INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL,
			name                TEXT NOT NULL UNIQUE,
			camera_id           INTEGER NOT NULL,
			prior_qw            REAL,
			prior_qx            REAL,
			prior_qy            REAL,
			prior_qz            REAL,
			prior_tx            REAL,
			prior_ty            REAL,
			prior_tz            REAL,
			CONSTRAINT image_id_check CHECK(image_id >= 0 and image_id < 2147483647),
			FOREIGN KEY(camera_id) REFERENCES cameras(camera_id)
		);
		CREATE UNIQUE INDEX IF NOT EXISTS index_name ON images(name);
		CREATE TABLE IF NOT EXISTS keypoints (
			image_id            INTEGER PRIMARY KEY NOT NULL,
			rows                INTEGER NOT NULL,
			cols                INTEGER NOT NULL,
			data                BLOB,
			FOREIGN KEY(image_id) REFERENCES images(image_id) ON DELETE CASCADE
		);
		CREATE TABLE IF NOT EXISTS descriptors (
			image_id            INTEGER PRIMARY KEY NOT NULL,
			rows                INTEGER NOT NULL,
			cols                INTEGER NOT NULL,
			data                BLOB,
			FOREIGN KEY(image_id) REFERENCES images(image_id) ON DELETE CASCADE
		);
		CREATE TABLE IF NOT EXISTS matches (
			pair_id             INTEGER PRIMARY KEY NOT NULL,
			rows                INTEGER NOT NULL,
			cols                INTEGER NOT NULL,
			data                BLOB
		);
		CREATE TABLE IF NOT EXISTS two_view_geometries (
			pair_id             INTEGER PRIMARY KEY NOT NULL,
			rows                INTEGER NOT NULL,
			cols                INTEGER NOT NULL,
			data                BLOB,
			config              INTEGER NOT NULL,
			F                   BLOB,
			E                   BLOB,
			H                   BLOB,
			qvec                BLOB,
			tvec                BLOB
		);
	`)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &DB{db}, nil
}

// PairID encodes two image ids into COLMAP's pair key. The smaller id
// always comes first; callers must swap match columns when the ids
// were swapped.
func PairID(imageID1, imageID2 int64) int64 {
	if imageID1 > imageID2 {
		imageID1, imageID2 = imageID2, imageID1
	}
	return imageID1*maxNumImages + imageID2
}

// SplitPairID decodes a pair key back into its two image ids.
func SplitPairID(pairID int64) (imageID1, imageID2 int64) {
	imageID2 = pairID % maxNumImages
	imageID1 = (pairID - imageID2) / maxNumImages
	return imageID1, imageID2
}

// retryOnBusy retries an operation when SQLite reports the database is
// locked by another connection.
func retryOnBusy(op func() error) error {
	const maxAttempts = 5
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = op()
		if err == nil || !isBusy(err) {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * 50 * time.Millisecond)
	}
	return err
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}
