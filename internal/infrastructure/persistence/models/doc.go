// Package models contains GORM-specific persistence models that map to database tables.
// These models are separate from domain entities to keep the domain layer pure and free
// from ORM concerns.
//
// Key Principles:
// 1. Domain entities are free of GORM tags and infrastructure concerns
// 2. Persistence models contain all GORM annotations and table mappings
// 3. Mappers (ToDomain / FromDomain) convert between domain entities and persistence models
// 4. Repositories use persistence models for database operations
//
// Structure:
// - base.go: shared ID and timestamp columns
// - integration.go: connections, dedup records, unified orders and products, sync logs
//
// JSON payload columns use datatypes.JSON so the same models run on PostgreSQL (JSONB)
// and on SQLite in tests (JSON).
package models
