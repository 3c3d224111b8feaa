package registry

import (
	"context"

	"gorm.io/gorm"
)

// PageRequest selects a 1-indexed page of Size items.
type PageRequest struct {
	Size   int
	Number int
}

// Page is one slice of an ascending-id listing.
type Page[T any] struct {
	Items       []T
	TotalCount  int64
	HasNextPage bool
}

// paginate counts the rows matched by filter and loads the requested page ordered by
// idColumn. A zero size or an out-of-range page yields no items but the true total.
func paginate[T any](ctx context.Context, db *gorm.DB, idColumn string, filter func(*gorm.DB) *gorm.DB, request PageRequest) (Page[T], error) {
	var total int64
	if err := db.WithContext(ctx).Model(new(T)).Scopes(filter).Count(&total).Error; err != nil {
		return Page[T]{}, err
	}

	page := Page[T]{Items: []T{}, TotalCount: total}
	if request.Size <= 0 || request.Number <= 0 || total == 0 {
		return page, nil
	}
	// Compare page indexes before multiplying so huge page numbers cannot overflow the offset.
	size := int64(request.Size)
	if int64(request.Number-1) > (total-1)/size {
		return page, nil
	}
	offset := size * int64(request.Number-1)

	var items []T
	err := db.WithContext(ctx).
		Scopes(filter).
		Order(idColumn + " ASC").
		Offset(int(offset)).
		Limit(request.Size).
		Find(&items).Error
	if err != nil {
		return Page[T]{}, err
	}
	page.Items = items
	page.HasNextPage = offset+int64(len(items)) < total
	return page, nil
}

func noFilter(db *gorm.DB) *gorm.DB {
	return db
}
