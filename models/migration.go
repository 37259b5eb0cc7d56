package models

import (
	"log"

	"bitbucket.org/mmdatafocus/aftersales_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&AfterSalesCase{}, &CaseLog{}, &CaseAttachment{},
		&Store{}, &Order{}, &Rfq{}, &RfqItem{}, &OrderRfqLink{}, &Shipment{},
		&History{},
		&User{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
