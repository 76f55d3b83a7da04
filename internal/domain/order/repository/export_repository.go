package repository

import (
	"time"

	"github.com/jmoiron/sqlx"
)

// ExportRow 卖家订单导出的一行（已完成订单，按明细展开）
type ExportRow struct {
	Code         string    `db:"code"`
	ShopTitle    string    `db:"shop_title"`
	ProductTitle string    `db:"product_title"`
	Quantity     int       `db:"quantity"`
	TotalPrice   int64     `db:"total_price"`
	ShippingFee  int64     `db:"shipping_fee"`
	UsedTokens   int64     `db:"used_tokens"`
	FiatAmount   int64     `db:"fiat_amount"`
	ShipLater    bool      `db:"ship_later"`
	CompletedAt  time.Time `db:"completed_at"`
}

// ExportRepository 报表查询走原生 SQL，不经过 gorm 聚合加载
type ExportRepository interface {
	CompletedOrderRows(sellerUserID string, from, to time.Time) ([]ExportRow, error)
}

type exportRepository struct {
	db *sqlx.DB
}

func NewExportRepository(db *sqlx.DB) ExportRepository {
	return &exportRepository{db: db}
}

const completedOrderRowsQuery = `
SELECT og.code          AS code,
       o.shop_title     AS shop_title,
       od.product_title AS product_title,
       od.quantity      AS quantity,
       od.total_price   AS total_price,
       od.shipping_fee  AS shipping_fee,
       od.used_tokens   AS used_tokens,
       od.fiat_amount   AS fiat_amount,
       od.ship_later    AS ship_later,
       og.updated_at    AS completed_at
FROM order_groups og
JOIN orders o        ON o.order_group_id = og.id
JOIN order_details od ON od.order_id = o.id
WHERE og.seller_user_id = $1
  AND og.status = 'completed'
  AND og.updated_at BETWEEN $2 AND $3
ORDER BY og.updated_at, og.code`

func (r *exportRepository) CompletedOrderRows(sellerUserID string, from, to time.Time) ([]ExportRow, error) {
	var rows []ExportRow
	if err := r.db.Select(&rows, completedOrderRowsQuery, sellerUserID, from, to); err != nil {
		return nil, err
	}
	return rows, nil
}
