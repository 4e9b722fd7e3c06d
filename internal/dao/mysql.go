package dao

import (
	"errors"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

const (
	_MYSQL_ER_DUP_ENTRY = 1062
)

// MysqlRepository MySQL数据库实现
type MysqlRepository struct {
	db *gorm.DB
}

// NewMysqlRepository 创建MySQL数据访问对象
func NewMysqlRepository(db *gorm.DB) *MysqlRepository {
	return &MysqlRepository{db: db}
}

// 确保MysqlRepository实现了所有接口
var _ Repository = (*MysqlRepository)(nil)

func isDuplicateErr(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == _MYSQL_ER_DUP_ENTRY
}

func isNotFoundErr(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
