package postgres

import (
	"context"
	"fmt"
)

// CreateSchema creates all tables needed for the marketplace.
// Safe to call multiple times; every statement is IF NOT EXISTS.
func (s *Store) CreateSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS profiles (
    id TEXT PRIMARY KEY,
    role TEXT NOT NULL CHECK (role IN ('builder', 'supplier', 'delivery_provider', 'admin')),
    full_name TEXT NOT NULL,
    company_name TEXT NOT NULL DEFAULT '',
    phone TEXT NOT NULL DEFAULT '',
    email TEXT NOT NULL DEFAULT '',
    latitude DOUBLE PRECISION,
    longitude DOUBLE PRECISION,
    vehicle_type TEXT NOT NULL DEFAULT '',
    service_radius_km DOUBLE PRECISION NOT NULL DEFAULT 0,
    available BOOLEAN NOT NULL DEFAULT FALSE,
    rating DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_profiles_role_available ON profiles(role, available);
-- Inbound WhatsApp replies resolve the sender by phone.
CREATE UNIQUE INDEX IF NOT EXISTS idx_profiles_phone ON profiles(phone) WHERE phone <> '';

CREATE TABLE IF NOT EXISTS purchase_orders (
    id TEXT PRIMARY KEY,
    number TEXT NOT NULL UNIQUE,
    builder_id TEXT NOT NULL REFERENCES profiles(id),
    supplier_id TEXT NOT NULL REFERENCES profiles(id),
    status TEXT NOT NULL DEFAULT 'pending'
        CHECK (status IN ('pending', 'confirmed', 'dispatched', 'delivered', 'completed', 'cancelled')),
    items JSONB NOT NULL,
    delivery_address TEXT NOT NULL,
    required_by TIMESTAMPTZ,
    notes TEXT NOT NULL DEFAULT '',
    subtotal NUMERIC(14, 2) NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    confirmed_at TIMESTAMPTZ,
    completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_purchase_orders_builder ON purchase_orders(builder_id, status);
CREATE INDEX IF NOT EXISTS idx_purchase_orders_supplier ON purchase_orders(supplier_id, status);

CREATE TABLE IF NOT EXISTS delivery_requests (
    id TEXT PRIMARY KEY,
    builder_id TEXT NOT NULL REFERENCES profiles(id),
    purchase_order_id TEXT REFERENCES purchase_orders(id),
    pickup_address TEXT NOT NULL,
    pickup_lat DOUBLE PRECISION NOT NULL,
    pickup_lng DOUBLE PRECISION NOT NULL,
    dropoff_address TEXT NOT NULL,
    dropoff_lat DOUBLE PRECISION NOT NULL,
    dropoff_lng DOUBLE PRECISION NOT NULL,
    material_summary TEXT NOT NULL DEFAULT '',
    weight_kg DOUBLE PRECISION NOT NULL DEFAULT 0,
    vehicle_type TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'pending'
        CHECK (status IN ('pending', 'offered', 'accepted', 'no_provider', 'cancelled')),
    assigned_provider_id TEXT REFERENCES profiles(id),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_delivery_requests_builder ON delivery_requests(builder_id);

CREATE TABLE IF NOT EXISTS rotation_entries (
    id TEXT PRIMARY KEY,
    request_id TEXT NOT NULL REFERENCES delivery_requests(id) ON DELETE CASCADE,
    provider_id TEXT NOT NULL REFERENCES profiles(id),
    position INTEGER NOT NULL,
    distance_km DOUBLE PRECISION NOT NULL,
    status TEXT NOT NULL DEFAULT 'queued'
        CHECK (status IN ('queued', 'offered', 'accepted', 'declined', 'expired', 'skipped')),
    offered_at TIMESTAMPTZ,
    expires_at TIMESTAMPTZ,
    responded_at TIMESTAMPTZ,
    UNIQUE (request_id, position),
    UNIQUE (request_id, provider_id)
);

CREATE INDEX IF NOT EXISTS idx_rotation_entries_offered ON rotation_entries(status, expires_at);
CREATE INDEX IF NOT EXISTS idx_rotation_entries_provider ON rotation_entries(provider_id, status);

CREATE TABLE IF NOT EXISTS provider_responses (
    id TEXT PRIMARY KEY,
    request_id TEXT NOT NULL REFERENCES delivery_requests(id) ON DELETE CASCADE,
    provider_id TEXT NOT NULL REFERENCES profiles(id),
    response TEXT NOT NULL CHECK (response IN ('accept', 'decline')),
    reason TEXT NOT NULL DEFAULT '',
    responded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS deliveries (
    id TEXT PRIMARY KEY,
    tracking_number TEXT NOT NULL UNIQUE,
    delivery_request_id TEXT NOT NULL UNIQUE REFERENCES delivery_requests(id),
    builder_id TEXT NOT NULL REFERENCES profiles(id),
    provider_id TEXT NOT NULL REFERENCES profiles(id),
    purchase_order_id TEXT REFERENCES purchase_orders(id),
    pickup_address TEXT NOT NULL,
    dropoff_address TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'assigned'
        CHECK (status IN ('assigned', 'picked_up', 'in_transit', 'delivered', 'cancelled')),
    current_lat DOUBLE PRECISION,
    current_lng DOUBLE PRECISION,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    picked_up_at TIMESTAMPTZ,
    delivered_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_deliveries_builder ON deliveries(builder_id);
CREATE INDEX IF NOT EXISTS idx_deliveries_provider ON deliveries(provider_id);

CREATE TABLE IF NOT EXISTS tracking_updates (
    id TEXT PRIMARY KEY,
    delivery_id TEXT NOT NULL REFERENCES deliveries(id) ON DELETE CASCADE,
    status TEXT NOT NULL,
    latitude DOUBLE PRECISION,
    longitude DOUBLE PRECISION,
    note TEXT NOT NULL DEFAULT '',
    recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_tracking_updates_delivery ON tracking_updates(delivery_id, recorded_at);

CREATE TABLE IF NOT EXISTS delivery_notes (
    id TEXT PRIMARY KEY,
    number TEXT NOT NULL UNIQUE,
    purchase_order_id TEXT NOT NULL REFERENCES purchase_orders(id),
    supplier_id TEXT NOT NULL REFERENCES profiles(id),
    builder_id TEXT NOT NULL REFERENCES profiles(id),
    delivery_id TEXT REFERENCES deliveries(id),
    items JSONB NOT NULL,
    status TEXT NOT NULL DEFAULT 'dispatched' CHECK (status IN ('dispatched', 'received')),
    vehicle_registration TEXT NOT NULL DEFAULT '',
    driver_name TEXT NOT NULL DEFAULT '',
    notes TEXT NOT NULL DEFAULT '',
    dispatched_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    received_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_delivery_notes_po ON delivery_notes(purchase_order_id);

CREATE TABLE IF NOT EXISTS goods_received_notes (
    id TEXT PRIMARY KEY,
    number TEXT NOT NULL UNIQUE,
    delivery_note_id TEXT NOT NULL UNIQUE REFERENCES delivery_notes(id),
    purchase_order_id TEXT NOT NULL REFERENCES purchase_orders(id),
    builder_id TEXT NOT NULL REFERENCES profiles(id),
    supplier_id TEXT NOT NULL REFERENCES profiles(id),
    items JSONB NOT NULL,
    status TEXT NOT NULL CHECK (status IN ('complete', 'partial')),
    notes TEXT NOT NULL DEFAULT '',
    received_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_goods_received_notes_po ON goods_received_notes(purchase_order_id);

CREATE TABLE IF NOT EXISTS invoices (
    id TEXT PRIMARY KEY,
    number TEXT NOT NULL UNIQUE,
    purchase_order_id TEXT NOT NULL REFERENCES purchase_orders(id),
    supplier_id TEXT NOT NULL REFERENCES profiles(id),
    builder_id TEXT NOT NULL REFERENCES profiles(id),
    items JSONB NOT NULL,
    subtotal NUMERIC(14, 2) NOT NULL,
    tax_rate NUMERIC(6, 4) NOT NULL,
    tax_amount NUMERIC(14, 2) NOT NULL,
    total NUMERIC(14, 2) NOT NULL,
    status TEXT NOT NULL DEFAULT 'draft'
        CHECK (status IN ('draft', 'sent', 'paid', 'overdue', 'cancelled')),
    notes TEXT NOT NULL DEFAULT '',
    issued_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    due_date TIMESTAMPTZ NOT NULL,
    paid_at TIMESTAMPTZ,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_invoices_supplier ON invoices(supplier_id, status);
CREATE INDEX IF NOT EXISTS idx_invoices_builder ON invoices(builder_id, status);
CREATE INDEX IF NOT EXISTS idx_invoices_due ON invoices(status, due_date);

CREATE TABLE IF NOT EXISTS qr_codes (
    id TEXT PRIMARY KEY,
    code TEXT NOT NULL UNIQUE,
    supplier_id TEXT NOT NULL REFERENCES profiles(id),
    builder_id TEXT NOT NULL REFERENCES profiles(id),
    purchase_order_id TEXT NOT NULL REFERENCES purchase_orders(id),
    material_id TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    quantity NUMERIC(14, 3) NOT NULL,
    status TEXT NOT NULL DEFAULT 'generated'
        CHECK (status IN ('generated', 'dispatched', 'received', 'verified', 'void')),
    scanned_by TEXT REFERENCES profiles(id),
    scanned_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- Voided labels keep their rows; only live labels are unique per item.
ALTER TABLE qr_codes DROP CONSTRAINT IF EXISTS qr_codes_purchase_order_id_material_id_key;
CREATE UNIQUE INDEX IF NOT EXISTS idx_qr_codes_live_item ON qr_codes(purchase_order_id, material_id)
    WHERE status <> 'void';
CREATE INDEX IF NOT EXISTS idx_qr_codes_supplier ON qr_codes(supplier_id, status);
`
