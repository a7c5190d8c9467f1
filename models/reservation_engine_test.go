package models_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/marron15/gym-api/config"
	"github.com/marron15/gym-api/models"
)

// setupReservationTest boots a throwaway MySQL container, connects the
// global DB and migrates the schema. Gated on INTEGRATION_TESTS=1 like the
// rest of the docker-backed suite.
func setupReservationTest(t *testing.T) context.Context {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "gym_api_test")

	config.ConnectDatabaseWithRetry()
	models.MigrateTable()

	return context.Background()
}

func createTestProduct(t *testing.T, name string, quantity int) *models.Product {
	t.Helper()
	product := models.Product{Name: name, Description: name + " description", Quantity: quantity}
	if err := config.GetDB().Create(&product).Error; err != nil {
		t.Fatalf("create product: %v", err)
	}
	return &product
}

func createTestCustomer(t *testing.T, firstName, email string) *models.Customer {
	t.Helper()
	customer := models.Customer{FirstName: firstName, LastName: "Tester", Email: email}
	if err := config.GetDB().Create(&customer).Error; err != nil {
		t.Fatalf("create customer: %v", err)
	}
	return &customer
}

func productQuantity(t *testing.T, productId int) int {
	t.Helper()
	var product models.Product
	if err := config.GetDB().Where("id = ?", productId).First(&product).Error; err != nil {
		t.Fatalf("fetch product %d: %v", productId, err)
	}
	return product.Quantity
}

func reservationRow(t *testing.T, reservationId int) *models.ReservedProduct {
	t.Helper()
	var reservation models.ReservedProduct
	if err := config.GetDB().Where("id = ?", reservationId).First(&reservation).Error; err != nil {
		t.Fatalf("fetch reservation %d: %v", reservationId, err)
	}
	return &reservation
}

// assertLedgerInvariant checks the core property: available quantity plus
// the sum held by active reservations equals the product's physical stock.
func assertLedgerInvariant(t *testing.T, productId int, physicalStock int) {
	t.Helper()
	var held int
	err := config.GetDB().Model(&models.ReservedProduct{}).
		Where("product_id = ? AND status IN ?", productId,
			[]models.ReservationStatus{models.ReservationStatusPending, models.ReservationStatusAccepted}).
		Select("COALESCE(SUM(quantity), 0)").
		Scan(&held).Error
	if err != nil {
		t.Fatalf("sum active reservations: %v", err)
	}
	available := productQuantity(t, productId)
	if available < 0 {
		t.Fatalf("ledger went negative: available=%d", available)
	}
	if available+held != physicalStock {
		t.Fatalf("ledger invariant broken: available=%d held=%d physical=%d", available, held, physicalStock)
	}
}

func TestCreateReservation_StockAccounting(t *testing.T) {
	ctx := setupReservationTest(t)

	product := createTestProduct(t, "Whey Protein", 10)
	customer := createTestCustomer(t, "Maria", "maria@test.local")

	reservation, err := models.CreateReservation(ctx, &models.NewReservation{
		CustomerId: customer.ID,
		ProductId:  product.ID,
		Quantity:   10,
		Notes:      "pickup friday",
	})
	if err != nil {
		t.Fatalf("CreateReservation: %v", err)
	}
	if reservation.ID == 0 {
		t.Fatal("reservation id not assigned")
	}
	if reservation.Status != models.ReservationStatusPending {
		t.Fatalf("status = %q, want pending", reservation.Status)
	}
	if got := productQuantity(t, product.ID); got != 0 {
		t.Fatalf("ledger = %d after full reservation, want 0", got)
	}

	// Stock is exhausted: next reservation must fail without mutating anything.
	_, err = models.CreateReservation(ctx, &models.NewReservation{
		CustomerId: customer.ID,
		ProductId:  product.ID,
		Quantity:   1,
	})
	if !errors.Is(err, models.ErrInsufficientStock) {
		t.Fatalf("want ErrInsufficientStock, got %v", err)
	}
	var count int64
	if err := config.GetDB().Model(&models.ReservedProduct{}).Where("product_id = ?", product.ID).Count(&count).Error; err != nil {
		t.Fatalf("count reservations: %v", err)
	}
	if count != 1 {
		t.Fatalf("reservation count = %d, want 1 (failed create must not leave an orphan row)", count)
	}

	_, err = models.CreateReservation(ctx, &models.NewReservation{
		CustomerId: customer.ID,
		ProductId:  99999,
		Quantity:   1,
	})
	if !errors.Is(err, models.ErrProductNotFound) {
		t.Fatalf("want ErrProductNotFound, got %v", err)
	}

	_, err = models.CreateReservation(ctx, &models.NewReservation{
		CustomerId: customer.ID,
		ProductId:  product.ID,
		Quantity:   0,
	})
	if !errors.Is(err, models.ErrInvalidQuantity) {
		t.Fatalf("want ErrInvalidQuantity, got %v", err)
	}

	assertLedgerInvariant(t, product.ID, 10)
}

func TestUpdateReservationStatus_DeclineReleasesStock(t *testing.T) {
	ctx := setupReservationTest(t)

	product := createTestProduct(t, "Shaker Bottle", 10)
	customer := createTestCustomer(t, "Jose", "jose@test.local")

	reservation, err := models.CreateReservation(ctx, &models.NewReservation{
		CustomerId: customer.ID,
		ProductId:  product.ID,
		Quantity:   4,
	})
	if err != nil {
		t.Fatalf("CreateReservation: %v", err)
	}
	if got := productQuantity(t, product.ID); got != 6 {
		t.Fatalf("ledger = %d after hold, want 6", got)
	}

	change, err := models.UpdateReservationStatus(ctx, reservation.ID, "declined", "out of size")
	if err != nil {
		t.Fatalf("UpdateReservationStatus: %v", err)
	}
	if !change.Changed {
		t.Fatal("change.Changed = false, want true")
	}
	if change.PreviousStatus != models.ReservationStatusPending || change.NewStatus != models.ReservationStatusDeclined {
		t.Fatalf("transition = %s -> %s, want pending -> declined", change.PreviousStatus, change.NewStatus)
	}
	if got := productQuantity(t, product.ID); got != 10 {
		t.Fatalf("ledger = %d after decline, want 10", got)
	}
	row := reservationRow(t, reservation.ID)
	if row.Status != models.ReservationStatusDeclined {
		t.Fatalf("status = %q, want declined", row.Status)
	}
	if row.DeclineNote != "out of size" {
		t.Fatalf("decline_note = %q, want %q", row.DeclineNote, "out of size")
	}

	// A note on a non-decline transition is dropped: decline_note is only
	// written on transitions into declined.
	second, err := models.CreateReservation(ctx, &models.NewReservation{
		CustomerId: customer.ID,
		ProductId:  product.ID,
		Quantity:   2,
	})
	if err != nil {
		t.Fatalf("CreateReservation: %v", err)
	}
	if _, err := models.UpdateReservationStatus(ctx, second.ID, "cancelled", "changed my mind"); err != nil {
		t.Fatalf("UpdateReservationStatus: %v", err)
	}
	if row := reservationRow(t, second.ID); row.DeclineNote != "" {
		t.Fatalf("decline_note = %q on cancel, want empty", row.DeclineNote)
	}

	assertLedgerInvariant(t, product.ID, 10)
}

func TestUpdateReservationStatus_IdempotentNoOp(t *testing.T) {
	ctx := setupReservationTest(t)

	product := createTestProduct(t, "Lifting Straps", 8)
	customer := createTestCustomer(t, "Ana", "ana@test.local")

	reservation, err := models.CreateReservation(ctx, &models.NewReservation{
		CustomerId: customer.ID,
		ProductId:  product.ID,
		Quantity:   3,
	})
	if err != nil {
		t.Fatalf("CreateReservation: %v", err)
	}

	// Same-status update: success, no side effects.
	change, err := models.UpdateReservationStatus(ctx, reservation.ID, "pending", "")
	if err != nil {
		t.Fatalf("UpdateReservationStatus: %v", err)
	}
	if change.Changed {
		t.Fatal("change.Changed = true for same-status update, want false")
	}
	if got := productQuantity(t, product.ID); got != 5 {
		t.Fatalf("ledger = %d after no-op, want 5", got)
	}

	// Declining twice credits the ledger exactly once.
	if _, err := models.UpdateReservationStatus(ctx, reservation.ID, "declined", ""); err != nil {
		t.Fatalf("UpdateReservationStatus: %v", err)
	}
	change, err = models.UpdateReservationStatus(ctx, reservation.ID, "declined", "")
	if err != nil {
		t.Fatalf("UpdateReservationStatus: %v", err)
	}
	if change.Changed {
		t.Fatal("second decline reported Changed = true, want false")
	}
	if got := productQuantity(t, product.ID); got != 8 {
		t.Fatalf("ledger = %d after repeated decline, want 8", got)
	}

	assertLedgerInvariant(t, product.ID, 8)
}

func TestUpdateReservationStatus_ReopenRoundTrip(t *testing.T) {
	ctx := setupReservationTest(t)

	product := createTestProduct(t, "Gym Towel", 10)
	customer := createTestCustomer(t, "Leo", "leo@test.local")

	reservation, err := models.CreateReservation(ctx, &models.NewReservation{
		CustomerId: customer.ID,
		ProductId:  product.ID,
		Quantity:   5,
	})
	if err != nil {
		t.Fatalf("CreateReservation: %v", err)
	}
	if _, err := models.UpdateReservationStatus(ctx, reservation.ID, "declined", ""); err != nil {
		t.Fatalf("decline: %v", err)
	}
	if got := productQuantity(t, product.ID); got != 10 {
		t.Fatalf("ledger = %d after decline, want 10", got)
	}

	// Re-open: the hold comes back and the ledger returns to where it was.
	if _, err := models.UpdateReservationStatus(ctx, reservation.ID, "pending", ""); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got := productQuantity(t, product.ID); got != 5 {
		t.Fatalf("ledger = %d after reopen, want 5", got)
	}

	// Active -> active transitions never touch the ledger.
	if _, err := models.UpdateReservationStatus(ctx, reservation.ID, "accepted", ""); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if got := productQuantity(t, product.ID); got != 5 {
		t.Fatalf("ledger = %d after accept, want 5", got)
	}

	// Release again, let another customer claim the freed stock, then try to
	// re-open: must fail rather than oversell, and keep the old status.
	if _, err := models.UpdateReservationStatus(ctx, reservation.ID, "cancelled", ""); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	rival := createTestCustomer(t, "Rita", "rita@test.local")
	if _, err := models.CreateReservation(ctx, &models.NewReservation{
		CustomerId: rival.ID,
		ProductId:  product.ID,
		Quantity:   8,
	}); err != nil {
		t.Fatalf("rival reservation: %v", err)
	}
	_, err = models.UpdateReservationStatus(ctx, reservation.ID, "accepted", "")
	if !errors.Is(err, models.ErrInsufficientStock) {
		t.Fatalf("reopen after stock claimed: want ErrInsufficientStock, got %v", err)
	}
	if row := reservationRow(t, reservation.ID); row.Status != models.ReservationStatusCancelled {
		t.Fatalf("status = %q after failed reopen, want cancelled", row.Status)
	}
	if got := productQuantity(t, product.ID); got != 2 {
		t.Fatalf("ledger = %d after failed reopen, want 2", got)
	}

	assertLedgerInvariant(t, product.ID, 10)
}

func TestUpdateReservationStatus_NotFoundAndInvalid(t *testing.T) {
	ctx := setupReservationTest(t)

	product := createTestProduct(t, "Resistance Band", 7)

	_, err := models.UpdateReservationStatus(ctx, 424242, "accepted", "")
	if !errors.Is(err, models.ErrReservationNotFound) {
		t.Fatalf("want ErrReservationNotFound, got %v", err)
	}
	if got := productQuantity(t, product.ID); got != 7 {
		t.Fatalf("ledger = %d after not-found update, want 7 (untouched)", got)
	}

	// Invalid status is rejected before any lock or read.
	_, err = models.UpdateReservationStatus(ctx, 424242, "approved", "")
	if !errors.Is(err, models.ErrInvalidStatus) {
		t.Fatalf("want ErrInvalidStatus, got %v", err)
	}
}

func TestConcurrentCreateReservation_NoOversell(t *testing.T) {
	ctx := setupReservationTest(t)

	product := createTestProduct(t, "Pre-Workout", 10)
	customer := createTestCustomer(t, "Paolo", "paolo@test.local")

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = models.CreateReservation(ctx, &models.NewReservation{
				CustomerId: customer.ID,
				ProductId:  product.ID,
				Quantity:   6,
			})
		}(i)
	}
	wg.Wait()

	var successes, insufficient int
	for _, err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, models.ErrInsufficientStock):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if successes != 1 || insufficient != 1 {
		t.Fatalf("got %d successes and %d insufficient-stock failures, want exactly 1 of each", successes, insufficient)
	}
	if got := productQuantity(t, product.ID); got != 4 {
		t.Fatalf("ledger = %d after concurrent creates, want 4", got)
	}

	assertLedgerInvariant(t, product.ID, 10)
}

func TestReservationListings(t *testing.T) {
	ctx := setupReservationTest(t)

	product := createTestProduct(t, "Creatine", 30)
	maria := createTestCustomer(t, "Maria", "maria@test.local")
	jose := createTestCustomer(t, "Jose", "jose@test.local")

	first, err := models.CreateReservation(ctx, &models.NewReservation{
		CustomerId: maria.ID, ProductId: product.ID, Quantity: 2,
	})
	if err != nil {
		t.Fatalf("CreateReservation: %v", err)
	}
	second, err := models.CreateReservation(ctx, &models.NewReservation{
		CustomerId: jose.ID, ProductId: product.ID, Quantity: 3,
	})
	if err != nil {
		t.Fatalf("CreateReservation: %v", err)
	}
	if _, err := models.UpdateReservationStatus(ctx, first.ID, "accepted", ""); err != nil {
		t.Fatalf("accept: %v", err)
	}

	all, err := models.GetReservations(ctx, "")
	if err != nil {
		t.Fatalf("GetReservations: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("listing size = %d, want 2", len(all))
	}
	// Newest first.
	if all[0].ID != second.ID {
		t.Fatalf("first row id = %d, want newest reservation %d", all[0].ID, second.ID)
	}
	if all[0].ProductName != "Creatine" {
		t.Fatalf("product_name = %q, want Creatine", all[0].ProductName)
	}
	if all[0].FirstName != "Jose" || all[0].Email != "jose@test.local" {
		t.Fatalf("customer join fields = %q/%q, want Jose/jose@test.local", all[0].FirstName, all[0].Email)
	}

	accepted, err := models.GetReservations(ctx, "accepted")
	if err != nil {
		t.Fatalf("GetReservations(accepted): %v", err)
	}
	if len(accepted) != 1 || accepted[0].ID != first.ID {
		t.Fatalf("accepted filter returned %d rows, want the accepted reservation only", len(accepted))
	}

	mine, err := models.GetReservationsByCustomer(ctx, maria.ID, "")
	if err != nil {
		t.Fatalf("GetReservationsByCustomer: %v", err)
	}
	if len(mine) != 1 || mine[0].CustomerId != maria.ID {
		t.Fatalf("customer scope returned %d rows, want 1 for customer %d", len(mine), maria.ID)
	}

	if _, err := models.GetReservations(ctx, "bogus"); !errors.Is(err, models.ErrInvalidStatus) {
		t.Fatalf("want ErrInvalidStatus for bogus filter, got %v", err)
	}
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("gym-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=gym_api_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
