package models

import "github.com/aimastermebjm-byte/Azzahra-Fashion-Muslim-sub003/config"

func MigrateTable() {
	db := config.GetDB()
	db.AutoMigrate(&User{})
	db.AutoMigrate(&Order{})
	db.AutoMigrate(&PaymentDetection{})
	db.AutoMigrate(&AutoVerifySettings{})
	db.AutoMigrate(&VerificationLog{})
}
