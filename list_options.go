package main

import (
	"gorm.io/gorm"

	"github.com/erc7824/nitrolite/walletnode/pkg/rpc"
)

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

func applySort(db *gorm.DB, sortBy string, defaultSort rpc.SortType, sortType *rpc.SortType) *gorm.DB {
	if sortType == nil {
		return db.Order(sortBy + " " + defaultSort.ToString())
	}

	return db.Order(sortBy + " " + sortType.ToString())
}

func paginate(rawOffset, rawLimit *uint32) func(db *gorm.DB) *gorm.DB {
	offset := 0
	if rawOffset != nil {
		offset = int(*rawOffset)
	}

	limit := DefaultLimit
	if rawLimit != nil {
		limit = int(*rawLimit)
	}
	if limit == 0 {
		limit = DefaultLimit
	} else if limit > MaxLimit {
		limit = MaxLimit
	}

	return func(db *gorm.DB) *gorm.DB {
		return db.Offset(offset).Limit(limit)
	}
}

func applyListOptions(db *gorm.DB, sortBy string, defaultSort rpc.SortType, options *rpc.ListOptions) *gorm.DB {
	if options == nil {
		return applySort(db, sortBy, defaultSort, nil).Scopes(paginate(nil, nil))
	}

	db = applySort(db, sortBy, defaultSort, options.Sort)
	return db.Scopes(paginate(&options.Offset, &options.Limit))
}
