package db

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
	"unicode/utf8"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"newsletter/internal/apperr"
	"newsletter/internal/config"
	"newsletter/internal/logger"
	"newsletter/internal/models"
)

const articleSeqCounter = "article_seq"

// articleDocument is the stored shape of an article. Keywords are embedded, so
// deleting the document removes them with it.
type articleDocument struct {
	Seq         int64                      `bson:"seq"`
	URL         string                     `bson:"url"`
	Title       string                     `bson:"title"`
	Date        int64                      `bson:"date"`
	Content     string                     `bson:"content"`
	Domain      string                     `bson:"domain"`
	ContentHash string                     `bson:"content_hash"`
	CreatedAt   int64                      `bson:"created_at"`
	Keywords    []models.KeywordOccurrence `bson:"keywords"`
}

func toDocument(a *models.Article) articleDocument {
	return articleDocument{
		Seq:         a.Seq,
		URL:         a.URL,
		Title:       a.Title,
		Date:        a.Date.UTC().Unix(),
		Content:     a.Content,
		Domain:      a.Domain,
		ContentHash: a.ContentHash,
		CreatedAt:   a.CreatedAt.UTC().Unix(),
		Keywords:    a.Keywords,
	}
}

func (d articleDocument) article() models.Article {
	kws := d.Keywords
	if kws == nil {
		kws = []models.KeywordOccurrence{}
	}
	return models.Article{
		Seq:         d.Seq,
		URL:         d.URL,
		Title:       d.Title,
		Date:        unixToTime(d.Date),
		Content:     d.Content,
		Domain:      d.Domain,
		ContentHash: d.ContentHash,
		CreatedAt:   unixToTime(d.CreatedAt),
		Keywords:    kws,
	}
}

// MongoDB is the document Store.
type MongoDB struct {
	client   *mongo.Client
	database *mongo.Database
	articles *mongo.Collection
	counters *mongo.Collection
	log      *logger.Logger
	now      func() time.Time
}

func NewMongoDB(ctx context.Context, cfg config.DBConfig, log *logger.Logger) (*MongoDB, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Connection))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("can't ping MongoDB: %w", err)
	}

	db := client.Database(cfg.Database)
	articles := cfg.Collections.Articles
	if articles == "" {
		articles = "articles"
	}
	counters := cfg.Collections.Counters
	if counters == "" {
		counters = "counters"
	}

	d := &MongoDB{
		client:   client,
		database: db,
		articles: db.Collection(articles),
		counters: db.Collection(counters),
		log:      log.With("component", "mongo"),
		now:      time.Now,
	}

	if err := d.createIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("can't create indices: %w", err)
	}

	log.Info("database initialized", "driver", "mongo", "database", cfg.Database)
	return d, nil
}

func (d *MongoDB) createIndexes(ctx context.Context) error {
	_, err := d.articles.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "url", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "seq", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "date", Value: -1}}},
		{Keys: bson.D{{Key: "keywords.keyword", Value: 1}}},
	})
	return err
}

func (d *MongoDB) nextSeq(ctx context.Context) (int64, error) {
	var counter struct {
		Value int64 `bson:"value"`
	}
	err := d.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": articleSeqCounter},
		bson.M{"$inc": bson.M{"value": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	return counter.Value, err
}

// InsertArticle writes the article and its keywords as one document, which
// makes the insert atomic without a transaction.
func (d *MongoDB) InsertArticle(ctx context.Context, a *models.Article) (int64, error) {
	const op = "MongoDB.InsertArticle"

	if a.CreatedAt.IsZero() {
		a.CreatedAt = d.now().UTC()
	}
	seq, err := d.nextSeq(ctx)
	if err != nil {
		return 0, apperr.Storage(op, err)
	}

	a.Keywords = dedupeKeywords(a.Keywords)
	doc := toDocument(a)
	doc.Seq = seq

	if _, err := d.articles.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return 0, apperr.Duplicate(op, a.URL)
		}
		return 0, apperr.Storage(op, err)
	}
	a.Seq = seq
	return seq, nil
}

func (d *MongoDB) ReplaceKeywords(ctx context.Context, seq int64, kws []models.KeywordOccurrence) error {
	const op = "MongoDB.ReplaceKeywords"

	res, err := d.articles.UpdateOne(ctx,
		bson.M{"seq": seq},
		bson.M{"$set": bson.M{"keywords": dedupeKeywords(kws)}})
	if err != nil {
		return apperr.Storage(op, err)
	}
	if res.MatchedCount == 0 {
		return apperr.NotFound(op, fmt.Sprintf("article %d not found", seq))
	}
	return nil
}

func (d *MongoDB) DeleteArticle(ctx context.Context, seq int64) error {
	const op = "MongoDB.DeleteArticle"

	res, err := d.articles.DeleteOne(ctx, bson.M{"seq": seq})
	if err != nil {
		return apperr.Storage(op, err)
	}
	if res.DeletedCount == 0 {
		return apperr.NotFound(op, fmt.Sprintf("article %d not found", seq))
	}
	return nil
}

func (d *MongoDB) GetArticle(ctx context.Context, seq int64) (*models.Article, error) {
	const op = "MongoDB.GetArticle"

	var doc articleDocument
	err := d.articles.FindOne(ctx, bson.M{"seq": seq}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.NotFound(op, fmt.Sprintf("article %d not found", seq))
	}
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	a := doc.article()
	return &a, nil
}

func (d *MongoDB) ArticleExists(ctx context.Context, url string) (bool, error) {
	n, err := d.articles.CountDocuments(ctx, bson.M{"url": url}, options.Count().SetLimit(1))
	if err != nil {
		return false, apperr.Storage("MongoDB.ArticleExists", err)
	}
	return n > 0, nil
}

var newestFirst = bson.D{{Key: "date", Value: -1}, {Key: "seq", Value: -1}}

func (d *MongoDB) findArticles(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]models.Article, error) {
	cursor, err := d.articles.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []articleDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]models.Article, len(docs))
	for i, doc := range docs {
		out[i] = doc.article()
		out[i].Content = ""
	}
	return out, nil
}

func (d *MongoDB) RecentArticles(ctx context.Context, since time.Time, limit int) ([]models.Article, error) {
	arts, err := d.findArticles(ctx,
		bson.M{"date": bson.M{"$gte": since.UTC().Unix()}},
		options.Find().SetSort(newestFirst).SetLimit(int64(limit)))
	if err != nil {
		return nil, apperr.Storage("MongoDB.RecentArticles", err)
	}
	return arts, nil
}

func (d *MongoDB) SearchArticles(ctx context.Context, f models.ArticleFilter) ([]models.Article, error) {
	arts, err := d.findArticles(ctx, searchFilter(f),
		options.Find().SetSort(newestFirst).SetLimit(int64(f.Limit)))
	if err != nil {
		return nil, apperr.Storage("MongoDB.SearchArticles", err)
	}
	return arts, nil
}

// searchFilter builds the query document for f. The query text is matched
// literally and case-insensitively in title or content.
func searchFilter(f models.ArticleFilter) bson.M {
	filter := bson.M{}
	if f.Query != "" {
		pattern := regexp.QuoteMeta(f.Query)
		filter["$or"] = bson.A{
			bson.M{"title": bson.M{"$regex": pattern, "$options": "i"}},
			bson.M{"content": bson.M{"$regex": pattern, "$options": "i"}},
		}
	}
	date := bson.M{}
	if !f.StartDate.IsZero() {
		date["$gte"] = f.StartDate.UTC().Unix()
	}
	if !f.EndDate.IsZero() {
		date["$lte"] = f.EndDate.UTC().Unix()
	}
	if len(date) > 0 {
		filter["date"] = date
	}
	return filter
}

func (d *MongoDB) ListArticles(ctx context.Context, offset, limit int) ([]models.ArticleSummary, int, error) {
	const op = "MongoDB.ListArticles"

	total, err := d.articles.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, 0, apperr.Storage(op, err)
	}

	cursor, err := d.articles.Find(ctx, bson.M{},
		options.Find().SetSort(newestFirst).SetSkip(int64(offset)).SetLimit(int64(limit)))
	if err != nil {
		return nil, 0, apperr.Storage(op, err)
	}
	defer cursor.Close(ctx)

	var docs []articleDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, 0, apperr.Storage(op, err)
	}

	out := make([]models.ArticleSummary, len(docs))
	for i, doc := range docs {
		a := doc.article()
		out[i] = models.ArticleSummary{
			Article:       a,
			KeywordCount:  len(a.Keywords),
			ContentLength: utf8.RuneCountInString(a.Content),
		}
		out[i].Content = ""
	}
	return out, int(total), nil
}

// KeywordRows unwinds embedded keywords for the articles dated in [since, until].
func (d *MongoDB) KeywordRows(ctx context.Context, since, until time.Time) ([]models.KeywordRow, error) {
	const op = "MongoDB.KeywordRows"

	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{{Key: "date", Value: bson.D{
			{Key: "$gte", Value: since.UTC().Unix()},
			{Key: "$lte", Value: until.UTC().Unix()},
		}}}}},
		bson.D{{Key: "$sort", Value: bson.D{{Key: "seq", Value: 1}}}},
		bson.D{{Key: "$unwind", Value: "$keywords"}},
		bson.D{{Key: "$project", Value: bson.D{
			{Key: "_id", Value: 0},
			{Key: "keyword", Value: "$keywords.keyword"},
			{Key: "frequency", Value: "$keywords.frequency"},
			{Key: "seq", Value: 1},
			{Key: "title", Value: 1},
			{Key: "url", Value: 1},
			{Key: "date", Value: 1},
		}}},
	}

	cursor, err := d.articles.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	defer cursor.Close(ctx)

	var out []models.KeywordRow
	for cursor.Next(ctx) {
		var row struct {
			Keyword   string `bson:"keyword"`
			Frequency int    `bson:"frequency"`
			Seq       int64  `bson:"seq"`
			Title     string `bson:"title"`
			URL       string `bson:"url"`
			Date      int64  `bson:"date"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, apperr.Storage(op, err)
		}
		out = append(out, models.KeywordRow{
			Keyword:    row.Keyword,
			Frequency:  row.Frequency,
			ArticleSeq: row.Seq,
			Title:      row.Title,
			URL:        row.URL,
			Date:       unixToTime(row.Date),
		})
	}
	if err := cursor.Err(); err != nil {
		return nil, apperr.Storage(op, err)
	}
	return out, nil
}

func (d *MongoDB) RelatedArticles(ctx context.Context, keyword string, limit int) ([]models.RelatedArticle, error) {
	const op = "MongoDB.RelatedArticles"

	cursor, err := d.articles.Find(ctx,
		bson.M{"keywords.keyword": keyword},
		options.Find().
			SetSort(newestFirst).
			SetLimit(int64(limit)).
			SetProjection(bson.M{"seq": 1, "title": 1, "url": 1, "date": 1}))
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	defer cursor.Close(ctx)

	out := []models.RelatedArticle{}
	for cursor.Next(ctx) {
		var doc articleDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, apperr.Storage(op, err)
		}
		out = append(out, models.RelatedArticle{Seq: doc.Seq, Title: doc.Title, URL: doc.URL, Date: unixToTime(doc.Date)})
	}
	if err := cursor.Err(); err != nil {
		return nil, apperr.Storage(op, err)
	}
	return out, nil
}

func (d *MongoDB) Stats(ctx context.Context) (*models.Stats, error) {
	const op = "MongoDB.Stats"

	pipeline := mongo.Pipeline{
		bson.D{{Key: "$facet", Value: bson.D{
			{Key: "articles", Value: bson.A{
				bson.D{{Key: "$group", Value: bson.D{
					{Key: "_id", Value: nil},
					{Key: "total", Value: bson.D{{Key: "$sum", Value: 1}}},
					{Key: "domains", Value: bson.D{{Key: "$addToSet", Value: "$domain"}}},
				}}},
			}},
			{Key: "keywords", Value: bson.A{
				bson.D{{Key: "$unwind", Value: "$keywords"}},
				bson.D{{Key: "$group", Value: bson.D{
					{Key: "_id", Value: nil},
					{Key: "total", Value: bson.D{{Key: "$sum", Value: 1}}},
					{Key: "unique", Value: bson.D{{Key: "$addToSet", Value: "$keywords.keyword"}}},
					{Key: "avg", Value: bson.D{{Key: "$avg", Value: "$keywords.frequency"}}},
				}}},
			}},
			{Key: "top_domain", Value: bson.A{
				bson.D{{Key: "$group", Value: bson.D{
					{Key: "_id", Value: "$domain"},
					{Key: "n", Value: bson.D{{Key: "$sum", Value: 1}}},
				}}},
				bson.D{{Key: "$sort", Value: bson.D{{Key: "n", Value: -1}, {Key: "_id", Value: 1}}}},
				bson.D{{Key: "$limit", Value: 1}},
			}},
			{Key: "top_keyword", Value: bson.A{
				bson.D{{Key: "$unwind", Value: "$keywords"}},
				bson.D{{Key: "$group", Value: bson.D{
					{Key: "_id", Value: "$keywords.keyword"},
					{Key: "n", Value: bson.D{{Key: "$sum", Value: "$keywords.frequency"}}},
				}}},
				bson.D{{Key: "$sort", Value: bson.D{{Key: "n", Value: -1}, {Key: "_id", Value: 1}}}},
				bson.D{{Key: "$limit", Value: 1}},
			}},
			{Key: "hourly", Value: bson.A{
				bson.D{{Key: "$group", Value: bson.D{
					{Key: "_id", Value: bson.D{{Key: "$dateToString", Value: bson.D{
						{Key: "format", Value: "%H"},
						{Key: "date", Value: bson.D{{Key: "$toDate", Value: bson.D{{Key: "$multiply", Value: bson.A{"$created_at", 1000}}}}}},
						{Key: "timezone", Value: "UTC"},
					}}}},
					{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
				}}},
				bson.D{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
			}},
		}}},
	}

	cursor, err := d.articles.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	defer cursor.Close(ctx)

	var facets []struct {
		Articles []struct {
			Total   int      `bson:"total"`
			Domains []string `bson:"domains"`
		} `bson:"articles"`
		Keywords []struct {
			Total  int      `bson:"total"`
			Unique []string `bson:"unique"`
			Avg    float64  `bson:"avg"`
		} `bson:"keywords"`
		TopDomain []struct {
			ID string `bson:"_id"`
		} `bson:"top_domain"`
		TopKeyword []struct {
			ID string `bson:"_id"`
		} `bson:"top_keyword"`
		Hourly []struct {
			ID    string `bson:"_id"`
			Count int    `bson:"count"`
		} `bson:"hourly"`
	}
	if err := cursor.All(ctx, &facets); err != nil {
		return nil, apperr.Storage(op, err)
	}

	st := &models.Stats{HourlyStats: []models.HourlyStat{}}
	if len(facets) == 0 {
		return st, nil
	}
	f := facets[0]
	if len(f.Articles) > 0 {
		st.TotalArticles = f.Articles[0].Total
		st.UniqueDomains = len(f.Articles[0].Domains)
	}
	if len(f.Keywords) > 0 {
		st.TotalKeywords = f.Keywords[0].Total
		st.UniqueKeywords = len(f.Keywords[0].Unique)
		st.AvgKeywordFrequency = f.Keywords[0].Avg
	}
	if len(f.TopDomain) > 0 {
		st.TopDomain = f.TopDomain[0].ID
	}
	if len(f.TopKeyword) > 0 {
		st.TopKeyword = f.TopKeyword[0].ID
	}
	for _, h := range f.Hourly {
		st.HourlyStats = append(st.HourlyStats, models.HourlyStat{Hour: h.ID, Count: h.Count})
	}
	return st, nil
}

func (d *MongoDB) Ping(ctx context.Context) error {
	if err := d.client.Ping(ctx, nil); err != nil {
		return apperr.Storage("MongoDB.Ping", err)
	}
	return nil
}

func (d *MongoDB) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return d.client.Disconnect(ctx)
}
