package store

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"yqhp/work-queue/pkg/types"
)

// TaskRecord is the journal row for one task.
type TaskRecord struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement:false"`
	State     string `gorm:"size:16;index"`
	WorkerID  string `gorm:"size:128"`
	Tag       string `gorm:"size:128;index"`
	Failures  int
	Data      string `gorm:"type:text"`
	UpdatedAt time.Time
}

// TableName 表名
func (TaskRecord) TableName() string {
	return "wq_tasks"
}

// SQLJournal records tasks in a relational table through gorm.
type SQLJournal struct {
	db *gorm.DB
}

// OpenSQLJournal opens a mysql or postgres journal and migrates its table.
func OpenSQLJournal(driver, dsn string) (*SQLJournal, error) {
	var dialector gorm.Dialector
	switch driver {
	case "mysql":
		dialector = mysql.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	return NewSQLJournal(db)
}

// NewSQLJournal uses an existing connection and migrates the table.
func NewSQLJournal(db *gorm.DB) (*SQLJournal, error) {
	if err := db.AutoMigrate(&TaskRecord{}); err != nil {
		return nil, fmt.Errorf("migrate %s: %w", TaskRecord{}.TableName(), err)
	}
	return &SQLJournal{db: db}, nil
}

func (j *SQLJournal) Record(ctx context.Context, task *types.Task) error {
	rec, err := toRecord(task)
	if err != nil {
		return err
	}
	return j.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"state", "worker_id", "tag", "failures", "data", "updated_at"}),
	}).Create(rec).Error
}

func (j *SQLJournal) Delete(ctx context.Context, id uint64) error {
	return j.db.WithContext(ctx).Delete(&TaskRecord{}, id).Error
}

func (j *SQLJournal) Load(ctx context.Context) ([]*types.Task, error) {
	var recs []TaskRecord
	if err := j.db.WithContext(ctx).Order("id").Find(&recs).Error; err != nil {
		return nil, err
	}

	out := make([]*types.Task, 0, len(recs))
	for i := range recs {
		t, err := fromRecord(&recs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (j *SQLJournal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toRecord(t *types.Task) (*TaskRecord, error) {
	data, err := sonic.MarshalString(t)
	if err != nil {
		return nil, fmt.Errorf("encode task %d: %w", t.ID, err)
	}
	return &TaskRecord{
		ID:       t.ID,
		State:    string(t.State),
		WorkerID: t.WorkerID,
		Tag:      t.Tag,
		Failures: t.Failures,
		Data:     data,
	}, nil
}

func fromRecord(r *TaskRecord) (*types.Task, error) {
	t := &types.Task{}
	if err := sonic.UnmarshalString(r.Data, t); err != nil {
		return nil, fmt.Errorf("decode task %d: %w", r.ID, err)
	}
	t.ID = r.ID
	t.State = types.TaskState(r.State)
	t.WorkerID = r.WorkerID
	t.Failures = r.Failures
	return t, nil
}
