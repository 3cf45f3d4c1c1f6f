package implementation

import (
	"context"
	"errors"

	"analytics-console/internal/entity"
	"analytics-console/internal/mapper"
	"analytics-console/internal/model"
	"analytics-console/internal/repository/contract"
	"analytics-console/internal/repository/specification"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ConsoleSessionRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.ConsoleSessionMapper
}

func NewConsoleSessionRepository(db *gorm.DB) contract.ConsoleSessionRepository {
	return &ConsoleSessionRepositoryImpl{
		db:     db,
		mapper: mapper.NewConsoleSessionMapper(),
	}
}

func (r *ConsoleSessionRepositoryImpl) applySpecifications(db *gorm.DB, specs ...specification.Specification) *gorm.DB {
	for _, spec := range specs {
		db = spec.Apply(db)
	}
	return db
}

// Upsert writes the whole record, keyed by user.
func (r *ConsoleSessionRepositoryImpl) Upsert(ctx context.Context, session *entity.ConsoleSession) error {
	m, err := r.mapper.ToModel(session)
	if err != nil {
		return err
	}
	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"session_id",
			"dataset_metadata",
			"dataset_fingerprint",
			"relational_connected",
			"document_indexed",
			"cached_suggestions",
			"updated_at",
		}),
	}).Create(m).Error
	if err != nil {
		return err
	}

	saved, err := r.mapper.ToEntity(m)
	if err != nil {
		return err
	}
	*session = *saved
	return nil
}

func (r *ConsoleSessionRepositoryImpl) DeleteByUserIdUnscoped(ctx context.Context, userId string) error {
	return r.db.WithContext(ctx).Unscoped().Where("user_id = ?", userId).Delete(&model.ConsoleSession{}).Error
}

func (r *ConsoleSessionRepositoryImpl) FindOne(ctx context.Context, specs ...specification.Specification) (*entity.ConsoleSession, error) {
	var m model.ConsoleSession
	query := r.applySpecifications(r.db.WithContext(ctx), specs...)
	if err := query.First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.mapper.ToEntity(&m)
}

func (r *ConsoleSessionRepositoryImpl) FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.ConsoleSession, error) {
	var models []*model.ConsoleSession
	query := r.applySpecifications(r.db.WithContext(ctx), specs...)
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	entities := make([]*entity.ConsoleSession, 0, len(models))
	for _, m := range models {
		e, err := r.mapper.ToEntity(m)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	return entities, nil
}

func (r *ConsoleSessionRepositoryImpl) Count(ctx context.Context, specs ...specification.Specification) (int64, error) {
	var count int64
	query := r.applySpecifications(r.db.WithContext(ctx).Model(&model.ConsoleSession{}), specs...)
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
