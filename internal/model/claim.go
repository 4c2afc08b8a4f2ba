package model

import (
	"fmt"
	"time"
)

// Triple は1つの枠を識別する (category, item, slot) の組。
type Triple struct {
	Category string
	Item     string
	Slot     int
}

// String はログ出力用の表現を返す。
func (t Triple) String() string {
	return fmt.Sprintf("%s/%s/%d", t.Category, t.Item, t.Slot)
}

// Claim は枠の申込みを表す。
// 所有者は識別子と表示名のスナップショットとして保持し、Identityへの外部キーは持たない。
type Claim struct {
	ID               string
	Category         string
	Item             string
	Slot             int
	OwnerIdentifier  string
	OwnerDisplayName string
	Note             string
	CreatedAt        time.Time
}

// Triple は申込みの枠キーを返す。
func (c *Claim) Triple() Triple {
	return Triple{Category: c.Category, Item: c.Item, Slot: c.Slot}
}

// ClaimPatch は管理者による申込みの部分更新内容を表す。
// nilのフィールドは変更しない。
type ClaimPatch struct {
	DisplayName *string
	Note        *string
}

// IsEmpty は更新対象のフィールドが1つもないかを返す。
func (p ClaimPatch) IsEmpty() bool {
	return p.DisplayName == nil && p.Note == nil
}
