// Package api exposes the engine's control surface over HTTP: operator
// login, read-only session views, a command endpoint feeding the same queue
// the keyboard console uses, and a websocket event stream.
package api

import (
	"net/http"
	"time"

	"arbengine/internal/console"
	"arbengine/internal/engine"
	"arbengine/internal/events"
	"arbengine/internal/ledger"
	"arbengine/internal/market"
	"arbengine/internal/news"
	"arbengine/internal/volatility"
	"arbengine/pkg/db"

	"github.com/gin-gonic/gin"
)

// Server wires HTTP endpoints around the engine and event bus.
type Server struct {
	Router       *gin.Engine
	Bus          *events.Bus
	DB           *db.Database
	Engine       *engine.Engine
	Ledger       *ledger.Ledger
	Store        *market.Store
	News         *news.Book
	Classifier   *volatility.Classifier
	Console      *console.Runner
	JWTSecret    string
	PasswordHash string
}

func NewServer(bus *events.Bus, database *db.Database, eng *engine.Engine, l *ledger.Ledger,
	store *market.Store, book *news.Book, classifier *volatility.Classifier, runner *console.Runner,
	jwtSecret, passwordHash string) *Server {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RateLimitMiddleware())
	r.Use(TimeoutMiddleware(10 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:       r,
		Bus:          bus,
		DB:           database,
		Engine:       eng,
		Ledger:       l,
		Store:        store,
		News:         book,
		Classifier:   classifier,
		Console:      runner,
		JWTSecret:    jwtSecret,
		PasswordHash: passwordHash,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.POST("/auth/login", s.login)

		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.GET("/status", s.getStatus)
			protected.GET("/positions", s.getPositions)
			protected.GET("/quotes", s.getQuotes)
			protected.GET("/news", s.getNews)
			protected.GET("/volatility", s.getVolatility)
			protected.GET("/orders", s.getOrders)
			protected.POST("/command", s.postCommand)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.Status())
}

func (s *Server) getPositions(c *gin.Context) {
	type position struct {
		Instrument string  `json:"instrument"`
		Qty        float64 `json:"qty"`
		AvgCost    float64 `json:"avg_cost"`
		Realized   float64 `json:"realized"`
	}
	positions := s.Ledger.Positions()
	out := make([]position, 0, len(positions))
	for _, p := range positions {
		out = append(out, position{
			Instrument: p.Instrument,
			Qty:        p.Qty,
			AvgCost:    p.AvgCost,
			Realized:   p.Realized,
		})
	}
	c.JSON(http.StatusOK, gin.H{"positions": out, "capital": s.Ledger.Capital()})
}

func (s *Server) getQuotes(c *gin.Context) {
	snap := s.Store.Snapshot()
	type quote struct {
		Bid  float64 `json:"bid"`
		Ask  float64 `json:"ask"`
		Last float64 `json:"last"`
	}
	quotes := make(map[string]quote, len(snap.Quotes))
	for id, q := range snap.Quotes {
		quotes[id] = quote{Bid: q.Bid, Ask: q.Ask, Last: q.Last}
	}
	c.JSON(http.StatusOK, gin.H{"tick": snap.Tick, "quotes": quotes, "tenders": snap.Tenders})
}

func (s *Server) getNews(c *gin.Context) {
	gdp, bci := s.News.Shocks()
	c.JSON(http.StatusOK, gin.H{
		"events":    s.News.Events(),
		"shock_gdp": gdp,
		"shock_bci": bci,
	})
}

func (s *Server) getVolatility(c *gin.Context) {
	regimes := make(map[string]string, len(market.Tradable))
	for _, instrument := range market.Tradable {
		regimes[instrument] = string(s.Classifier.Regime(instrument))
	}
	c.JSON(http.StatusOK, gin.H{"regimes": regimes})
}

func (s *Server) getOrders(c *gin.Context) {
	orders, err := s.DB.ListOrders(100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "DB_ERROR",
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// postCommand accepts one console line. HTTP commands carry their arguments
// inline; the multi-line argument flow belongs to the keyboard console.
func (s *Server) postCommand(c *gin.Context) {
	var req struct {
		Line string `json:"line"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "invalid request payload",
		})
		return
	}

	cmd, ok, err := console.NewParser().Parse(req.Line)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_COMMAND",
			"error": err.Error(),
		})
		return
	}
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INCOMPLETE_COMMAND",
			"error": "command wants arguments on the same line",
		})
		return
	}
	if !s.Console.Push(cmd) {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"code":  "QUEUE_FULL",
			"error": "command queue full",
		})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": true})
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
