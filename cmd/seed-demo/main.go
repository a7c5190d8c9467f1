// seed-demo populates a development database with a handful of gym shop
// products and customers so the reservation endpoints have data to work with.
//
// Usage:
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/seed-demo
package main

import (
	"fmt"
	"os"

	"github.com/marron15/gym-api/config"
	"github.com/marron15/gym-api/models"
)

func main() {
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	models.MigrateTable()

	products := []models.Product{
		{Name: "Whey Protein 2lb", Description: "Chocolate whey protein, 2lb tub", Quantity: 25},
		{Name: "Shaker Bottle", Description: "700ml shaker with mixing ball", Quantity: 60},
		{Name: "Lifting Straps", Description: "Cotton lifting straps, pair", Quantity: 40},
		{Name: "Gym Towel", Description: "Microfiber towel with logo", Quantity: 80},
	}
	for i := range products {
		p := &products[i]
		if err := db.Where("name = ?", p.Name).FirstOrCreate(p).Error; err != nil {
			fmt.Fprintf(os.Stderr, "seed product %q: %v\n", p.Name, err)
			os.Exit(1)
		}
	}

	customers := []models.Customer{
		{FirstName: "Maria", LastName: "Santos", Email: "maria.santos@example.com", Phone: "09170000001"},
		{FirstName: "Jose", LastName: "Reyes", Email: "jose.reyes@example.com", Phone: "09170000002"},
		{FirstName: "Ana", LastName: "Cruz", Email: "ana.cruz@example.com", Phone: "09170000003"},
	}
	for i := range customers {
		c := &customers[i]
		if err := db.Where("email = ?", c.Email).FirstOrCreate(c).Error; err != nil {
			fmt.Fprintf(os.Stderr, "seed customer %q: %v\n", c.Email, err)
			os.Exit(1)
		}
	}

	fmt.Printf("seeded %d products and %d customers\n", len(products), len(customers))
}
