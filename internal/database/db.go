package database

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/texitpay/paygate/internal/errors"
	"github.com/texitpay/paygate/internal/models"
)

// Open connects to the relational store. driver is "mysql" or "sqlite".
func Open(driver, dsn string, debug bool) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "mysql":
		dialector = mysql.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	level := gormlogger.Silent
	if debug {
		level = gormlogger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormlogger.Default.LogMode(level),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, errors.ErrDatabaseOperation("connect", err)
	}

	if driver == "sqlite" {
		// sqlite serializes writers; one connection avoids SQLITE_BUSY between loop and API
		sqlDB, err := db.DB()
		if err != nil {
			return nil, errors.ErrDatabaseOperation("connect", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// Migrate creates or updates every table the gateway uses
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Merchant{},
		&models.MerchantNetwork{},
		&models.Payment{},
		&models.PaymentTransaction{},
		&models.WebhookLog{},
		&models.Address{},
	)
	if err != nil {
		return errors.ErrDatabaseOperation("migrate", err)
	}
	return nil
}

// Ping checks the store is reachable
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Stores groups the gorm-backed stores over one handle
type Stores struct {
	db        *gorm.DB
	Payments  *PaymentStore
	Merchants *MerchantStore
	Webhooks  *WebhookLogStore
	Addresses *AddressPool
}

// NewStores binds every store to db
func NewStores(db *gorm.DB) *Stores {
	return &Stores{
		db:        db,
		Payments:  NewPaymentStore(db),
		Merchants: NewMerchantStore(db),
		Webhooks:  NewWebhookLogStore(db),
		Addresses: NewAddressPool(db),
	}
}

// DB returns the handle the stores are bound to
func (s *Stores) DB() *gorm.DB {
	return s.db
}

// Transaction runs fn with stores bound to a single database transaction.
// fn's error rolls the transaction back.
func (s *Stores) Transaction(ctx context.Context, fn func(tx *Stores) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStores(tx))
	})
}
