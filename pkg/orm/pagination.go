package orm

import "gorm.io/gorm"

// Paginate 按页取：size<=0 不分页，page<1 当第一页
func Paginate(db *gorm.DB, page, size int) *gorm.DB {
	if size <= 0 {
		return db
	}
	if page < 1 {
		page = 1
	}
	return db.Offset((page - 1) * size).Limit(size)
}
