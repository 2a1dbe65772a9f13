package database

import "rename-fusion/app/model"

func AutoMigrate() error {
	// 自动迁移表结构
	return DB.AutoMigrate(
		&model.User{},
		&model.CloudStorage{},
		&model.RenameBatch{},
		&model.RenameItem{},
		&model.WorkflowTask{},
	)
}
