package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"peerd/pkg/model"
)

// peerRecord is the MySQL row of a peer.
type peerRecord struct {
	ID        uint   `gorm:"primaryKey"`
	Zone      string `gorm:"uniqueIndex:idx_zone_name;size:64"`
	Name      string `gorm:"uniqueIndex:idx_zone_name;size:64"`
	Route     string `gorm:"size:16"`
	PublicKey string `gorm:"size:64"`
	Endpoint  string `gorm:"size:128"`
	Props     string `gorm:"type:text"` // JSON object
	UpdatedAt time.Time
}

func (peerRecord) TableName() string { return "peers" }

// MySQLStore reads peers from a MySQL table managed by an external
// provisioning system.
type MySQLStore struct {
	db *gorm.DB
}

// OpenMySQL connects and migrates. When dsn is empty it is built from
// MYSQL_HOST, MYSQL_PORT, MYSQL_USER, MYSQL_PASS and MYSQL_DB.
func OpenMySQL(dsn string) (*MySQLStore, error) {
	conn, err := mysqlConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	dsn = conn.FormatDSN()

	cfg := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}
	db, err := gorm.Open(mysql.Open(dsn), cfg)
	if err != nil {
		if !strings.Contains(err.Error(), "Unknown database") {
			return nil, fmt.Errorf("open mysql: %w", err)
		}
		if cerr := createDatabase(conn); cerr != nil {
			return nil, fmt.Errorf("create database failed: %w", cerr)
		}
		if db, err = gorm.Open(mysql.Open(dsn), cfg); err != nil {
			return nil, fmt.Errorf("open mysql: %w", err)
		}
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetMaxOpenConns(5)
	if err := db.AutoMigrate(&peerRecord{}); err != nil {
		return nil, fmt.Errorf("migrate peers: %w", err)
	}
	return &MySQLStore{db: db}, nil
}

func (s *MySQLStore) ListPeers(ctx context.Context) (map[string][]model.PeerInfo, error) {
	var rows []peerRecord
	if err := s.db.WithContext(ctx).Order("zone, name").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list peers: %w", err)
	}
	out := make(map[string][]model.PeerInfo)
	for _, r := range rows {
		info, err := r.info()
		if err != nil {
			return nil, fmt.Errorf("peer %s/%s: %w", r.Zone, r.Name, err)
		}
		out[r.Zone] = append(out[r.Zone], info)
	}
	return out, nil
}

func (s *MySQLStore) PutPeer(ctx context.Context, zone string, p model.PeerInfo) error {
	rec, err := newPeerRecord(zone, p)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "zone"}, {Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"route", "public_key", "endpoint", "props", "updated_at"}),
	}).Create(&rec).Error
}

func (s *MySQLStore) DeletePeer(ctx context.Context, zone, name string) error {
	res := s.db.WithContext(ctx).Where("zone = ? AND name = ?", zone, name).Delete(&peerRecord{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Close releases the connection pool.
func (s *MySQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func newPeerRecord(zone string, p model.PeerInfo) (peerRecord, error) {
	props, err := json.Marshal(p.Props)
	if err != nil {
		return peerRecord{}, fmt.Errorf("encode props: %w", err)
	}
	return peerRecord{
		Zone:      zone,
		Name:      p.Name,
		Route:     string(p.Route),
		PublicKey: p.PublicKey,
		Endpoint:  p.Endpoint,
		Props:     string(props),
	}, nil
}

func (r peerRecord) info() (model.PeerInfo, error) {
	info := model.PeerInfo{
		Name:      r.Name,
		Route:     model.RouteKind(r.Route),
		PublicKey: r.PublicKey,
		Endpoint:  r.Endpoint,
	}
	if r.Props != "" && r.Props != "null" {
		if err := json.Unmarshal([]byte(r.Props), &info.Props); err != nil {
			return info, fmt.Errorf("decode props: %w", err)
		}
	}
	return info, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func loadDotEnv() error {
	if _, err := os.Stat(".env"); err == nil {
		return godotenv.Load(".env")
	}
	return nil
}

// mysqlConfig parses dsn, or builds one from the MYSQL_* environment
// when dsn is empty.
func mysqlConfig(dsn string) (*gomysql.Config, error) {
	if dsn != "" {
		return gomysql.ParseDSN(dsn)
	}
	_ = loadDotEnv()
	c := gomysql.NewConfig()
	c.User = getenv("MYSQL_USER", "root")
	c.Passwd = getenv("MYSQL_PASS", "")
	c.Net = "tcp"
	c.Addr = net.JoinHostPort(getenv("MYSQL_HOST", "127.0.0.1"), getenv("MYSQL_PORT", "3306"))
	c.DBName = getenv("MYSQL_DB", "peerd")
	c.ParseTime = true
	c.Loc = time.Local
	c.Params = map[string]string{"charset": "utf8mb4"}
	return c, nil
}

// serverDSN is conn without a default database, for CREATE DATABASE.
func serverDSN(conn *gomysql.Config) string {
	c := conn.Clone()
	c.DBName = ""
	return c.FormatDSN()
}

func createDatabase(conn *gomysql.Config) error {
	if conn.DBName == "" {
		return fmt.Errorf("dsn names no database")
	}
	db, err := sql.Open("mysql", serverDSN(conn))
	if err != nil {
		return err
	}
	defer db.Close()
	name := strings.ReplaceAll(conn.DBName, "`", "``")
	_, err = db.Exec(fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s` DEFAULT CHARACTER SET utf8mb4", name))
	return err
}
