package models

import (
	"log"

	"github.com/marron15/gym-api/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Product{},
		&Customer{},
		&ReservedProduct{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
