package model

import (
	"fmt"
	"time"
)

// ItemStatus 食品状态，封闭枚举。
type ItemStatus string

const (
	StatusInventory ItemStatus = "inventory"
	StatusDonation  ItemStatus = "donation"
	StatusExpired   ItemStatus = "expired"
	StatusConsumed  ItemStatus = "consumed"
)

// ParseItemStatus 解析状态字符串。
func ParseItemStatus(s string) (ItemStatus, error) {
	st := ItemStatus(s)
	switch st {
	case StatusInventory, StatusDonation, StatusExpired, StatusConsumed:
		return st, nil
	default:
		return "", fmt.Errorf("unknown item status %q", s)
	}
}

// CanTransition 判断状态迁移是否允许。
//
//	inventory -> donation / consumed / expired
//	donation  -> inventory
func (s ItemStatus) CanTransition(to ItemStatus) bool {
	switch s {
	case StatusInventory:
		return to == StatusDonation || to == StatusConsumed || to == StatusExpired
	case StatusDonation:
		return to == StatusInventory
	case StatusExpired, StatusConsumed:
		return false
	default:
		return false
	}
}

// 常用存放位置，用户也可以填写自定义位置。
const (
	StorageFridge  = "Fridge"
	StorageFreezer = "Freezer"
	StorageShelf   = "Shelf"
)

// FoodItem 家庭库存中的一条食品记录。
type FoodItem struct {
	ID        string     `json:"id" bson:"_id" gorm:"primaryKey;type:varchar(36)"`
	Owner     string     `json:"owner" bson:"owner" gorm:"type:varchar(36);index;not null"`
	Name      string     `json:"name" bson:"name" gorm:"type:varchar(191);not null"`
	Qty       int        `json:"qty" bson:"qty"`
	Expiry    time.Time  `json:"expiry" bson:"expiry"`
	Category  string     `json:"category" bson:"category" gorm:"type:varchar(64)"`
	Storage   string     `json:"storage" bson:"storage" gorm:"type:varchar(64)"`
	Notes     string     `json:"notes" bson:"notes" gorm:"type:text"`
	Status    ItemStatus `json:"status" bson:"status" gorm:"type:varchar(16);index;default:inventory"`
	CreatedAt time.Time  `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt" bson:"updatedAt"`
}

// DaysUntilExpiry 以自然日计算距离过期的天数，已过期为负数。
func (f *FoodItem) DaysUntilExpiry(now time.Time) int {
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	ey, em, ed := f.Expiry.In(now.Location()).Date()
	exp := time.Date(ey, em, ed, 0, 0, 0, 0, now.Location())
	return int(exp.Sub(today).Hours() / 24)
}

// ExpiringSoon 五天内（含当天）过期。
func (f *FoodItem) ExpiringSoon(now time.Time) bool {
	days := f.DaysUntilExpiry(now)
	return days >= 0 && days <= 5
}

// Donation 公开捐赠列表中的一条记录。
type Donation struct {
	ID           string    `json:"id" bson:"_id" gorm:"primaryKey;type:varchar(36)"`
	FoodID       string    `json:"foodId" bson:"foodId" gorm:"type:varchar(36);index"`
	FoodName     string    `json:"foodName" bson:"foodName" gorm:"type:varchar(191)"`
	Owner        string    `json:"owner" bson:"owner" gorm:"type:varchar(36);index;not null"`
	Qty          int       `json:"qty" bson:"qty"`
	Location     string    `json:"location" bson:"location" gorm:"type:varchar(191);not null"`
	Availability string    `json:"availability" bson:"availability" gorm:"type:varchar(191);not null"`
	Notes        string    `json:"notes" bson:"notes" gorm:"type:text"`
	CreatedAt    time.Time `json:"createdAt" bson:"createdAt"`
}
