package repository

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/subtrackhq/subtrack/internal/receipt/domain"
	"gorm.io/gorm"
)

func TestInsertIsUniqueOnTransactionID(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.ReceiptTransaction{}))

	ctx := context.Background()
	r := Provide()
	now := time.Now().UTC()
	row := func(id int64) *domain.ReceiptTransaction {
		return &domain.ReceiptTransaction{
			ID:               snowflake.ID(id),
			UserID:           "user_1",
			TransactionID:    "1000000001",
			ProductID:        "subtrack.premium.monthly",
			EncryptedReceipt: []byte(`{"v":1}`),
			CreatedAt:        now,
		}
	}

	inserted, err := r.Insert(ctx, db, row(1))
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = r.Insert(ctx, db, row(2))
	require.NoError(t, err)
	assert.False(t, inserted)

	found, err := r.FindByTransactionID(ctx, db, "1000000001")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, int64(1), int64(found.ID))
	assert.Equal(t, []byte(`{"v":1}`), found.EncryptedReceipt)

	missing, err := r.FindByTransactionID(ctx, db, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
