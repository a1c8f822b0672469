// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package issuance

import "fmt"

// Category is the kind of document an artifact certifies. The set is
// closed: values outside it are rejected at the boundary.
type Category string

const (
	CategoryPassport        Category = "PASSPORT"
	CategoryNationalID      Category = "NATIONAL_ID"
	CategoryDrivingLicense  Category = "DRIVING_LICENSE"
	CategoryResidencePermit Category = "RESIDENCE_PERMIT"
	CategoryProductCert     Category = "PRODUCT_CERT"
	CategoryConformityCert  Category = "CONFORMITY_CERT"
)

var categories = []Category{
	CategoryPassport,
	CategoryNationalID,
	CategoryDrivingLicense,
	CategoryResidencePermit,
	CategoryProductCert,
	CategoryConformityCert,
}

// Categories returns every valid category in declaration order.
func Categories() []Category {
	return append([]Category(nil), categories...)
}

// Valid reports whether c is one of the declared categories.
func (c Category) Valid() bool {
	for _, known := range categories {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory parses a category name. Matching is exact.
func ParseCategory(name string) (Category, error) {
	category := Category(name)
	if !category.Valid() {
		return "", fmt.Errorf("%w: unknown category %q", ErrInvalidRequest, name)
	}
	return category, nil
}
