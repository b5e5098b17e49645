package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/go-memdb"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/stock-ledger/internal/domain"
	"github.com/jhoicas/stock-ledger/internal/domain/entity"
	"github.com/jhoicas/stock-ledger/internal/domain/repository"
)

var (
	_ repository.ProductRepository  = (*ProductRepo)(nil)
	_ repository.LocationRepository = (*LocationRepo)(nil)
)

// ProductRepo catálogo de productos en memoria.
type ProductRepo struct {
	s session
}

func (r *ProductRepo) Create(_ context.Context, p *entity.Product) error {
	return r.s.write(func(txn *memdb.Txn) error {
		dup, err := txn.First(tableProducts, "sku", p.CompanyID, p.SKU)
		if err != nil {
			return err
		}
		if dup != nil {
			return fmt.Errorf("%w: sku %s", domain.ErrDuplicate, p.SKU)
		}
		c := *p
		return txn.Insert(tableProducts, &c)
	})
}

func (r *ProductRepo) GetByID(_ context.Context, id string) (*entity.Product, error) {
	return r.first("id", id)
}

func (r *ProductRepo) GetByCompanyAndSKU(_ context.Context, companyID, sku string) (*entity.Product, error) {
	return r.first("sku", companyID, sku)
}

func (r *ProductRepo) UpdateCost(_ context.Context, productID string, cost decimal.Decimal) error {
	return r.s.write(func(txn *memdb.Txn) error {
		obj, err := txn.First(tableProducts, "id", productID)
		if err != nil {
			return err
		}
		if obj == nil {
			return fmt.Errorf("%w: producto %s", domain.ErrNotFound, productID)
		}
		c := *obj.(*entity.Product)
		c.Cost = cost
		c.UpdatedAt = time.Now()
		return txn.Insert(tableProducts, &c)
	})
}

func (r *ProductRepo) ListByCompany(_ context.Context, companyID string, limit, offset int) ([]*entity.Product, error) {
	var out []*entity.Product
	err := r.s.read(func(txn *memdb.Txn) error {
		it, err := txn.Get(tableProducts, "company", companyID)
		if err != nil {
			return err
		}
		for obj := it.Next(); obj != nil; obj = it.Next() {
			c := *obj.(*entity.Product)
			out = append(out, &c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return page(out, limit, offset), nil
}

func (r *ProductRepo) first(index string, args ...interface{}) (*entity.Product, error) {
	var out *entity.Product
	err := r.s.read(func(txn *memdb.Txn) error {
		obj, err := txn.First(tableProducts, index, args...)
		if err != nil || obj == nil {
			return err
		}
		c := *obj.(*entity.Product)
		out = &c
		return nil
	})
	return out, err
}

// LocationRepo ubicaciones en memoria.
type LocationRepo struct {
	s session
}

func (r *LocationRepo) Create(_ context.Context, l *entity.Location) error {
	return r.s.write(func(txn *memdb.Txn) error {
		c := *l
		return txn.Insert(tableLocations, &c)
	})
}

func (r *LocationRepo) GetByID(_ context.Context, id string) (*entity.Location, error) {
	var out *entity.Location
	err := r.s.read(func(txn *memdb.Txn) error {
		obj, err := txn.First(tableLocations, "id", id)
		if err != nil || obj == nil {
			return err
		}
		c := *obj.(*entity.Location)
		out = &c
		return nil
	})
	return out, err
}

func (r *LocationRepo) ListByCompany(_ context.Context, companyID string, limit, offset int) ([]*entity.Location, error) {
	var out []*entity.Location
	err := r.s.read(func(txn *memdb.Txn) error {
		it, err := txn.Get(tableLocations, "company", companyID)
		if err != nil {
			return err
		}
		for obj := it.Next(); obj != nil; obj = it.Next() {
			c := *obj.(*entity.Location)
			out = append(out, &c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return page(out, limit, offset), nil
}
