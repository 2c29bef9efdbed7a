package accounts

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-print"
	"github.com/google/uuid"
)

// AccountService is the lifecycle surface exposed over HTTP
type AccountService interface {
	CreateAccount(ctx context.Context, in CreateAccountInput) (*Account, string, error)
	Login(ctx context.Context, in LoginInput) (*Account, string, error)
	GetAccount(ctx context.Context, id uuid.UUID) (*Account, error)
	UpdateAccount(ctx context.Context, id uuid.UUID, in UpdateAccountInput) (*Account, error)
	SoftDeleteAccount(ctx context.Context, id uuid.UUID, opts ...TransitionOption) (*Account, error)
	ListActiveAccounts(ctx context.Context) ([]*Account, error)
}

var _ AccountService = (*Manager)(nil)

// AccountControllerRoutes holds the route paths
type AccountControllerRoutes struct {
	Accounts string
	Login    string
}

// AccountController adapts HTTP requests to the AccountService
type AccountController struct {
	Debug       bool
	Logger      Logger
	Service     AccountService
	Tokens      TokenIssuer
	Images      ImageUploader
	ImageBucket string
	Routes      *AccountControllerRoutes
	ContextKey  string
}

// AccountControllerOption configures an AccountController
type AccountControllerOption func(*AccountController) *AccountController

// WithControllerService sets the account service
func WithControllerService(svc AccountService) AccountControllerOption {
	return func(a *AccountController) *AccountController {
		a.Service = svc
		return a
	}
}

// WithControllerTokens sets the token issuer used to protect routes
func WithControllerTokens(tokens TokenIssuer) AccountControllerOption {
	return func(a *AccountController) *AccountController {
		a.Tokens = tokens
		return a
	}
}

// WithControllerImages sets the image uploader for profile pictures
func WithControllerImages(images ImageUploader) AccountControllerOption {
	return func(a *AccountController) *AccountController {
		a.Images = images
		return a
	}
}

// WithControllerLogger sets the logger
func WithControllerLogger(logger Logger) AccountControllerOption {
	return func(a *AccountController) *AccountController {
		if logger != nil {
			a.Logger = logger
		}
		return a
	}
}

// WithControllerDebug includes error details in responses
func WithControllerDebug(debug bool) AccountControllerOption {
	return func(a *AccountController) *AccountController {
		a.Debug = debug
		return a
	}
}

// WithControllerRoutes overrides the route paths
func WithControllerRoutes(routes AccountControllerRoutes) AccountControllerOption {
	return func(a *AccountController) *AccountController {
		if routes.Accounts != "" {
			a.Routes.Accounts = routes.Accounts
		}
		if routes.Login != "" {
			a.Routes.Login = routes.Login
		}
		return a
	}
}

// NewAccountController creates the controller. Service and Tokens are required.
func NewAccountController(opts ...AccountControllerOption) *AccountController {
	c := &AccountController{
		Logger:      defLogger{},
		ImageBucket: ProfileImageBucket,
		ContextKey:  "session",
		Routes: &AccountControllerRoutes{
			Accounts: "/accounts",
			Login:    "/auth/login",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Service == nil {
		panic("Missing AccountService in account controller...")
	}

	if c.Tokens == nil {
		panic("Missing TokenIssuer in account controller...")
	}

	return c
}

// RegisterAccountRoutes mounts the account routes on router
func RegisterAccountRoutes(router fiber.Router, opts ...AccountControllerOption) *AccountController {
	controller := NewAccountController(opts...)

	protected := controller.ProtectedRoute()

	router.Post(controller.Routes.Login, controller.Login)
	router.Post(controller.Routes.Accounts, controller.CreateAccount)
	router.Get(controller.Routes.Accounts, protected, controller.ListAccounts)
	router.Get(controller.Routes.Accounts+"/:id", protected, controller.GetAccount)
	router.Patch(controller.Routes.Accounts+"/:id", protected, controller.UpdateAccount)
	router.Put(controller.Routes.Accounts+"/:id", protected, controller.UpdateAccount)
	router.Delete(controller.Routes.Accounts+"/:id", protected, controller.DeleteAccount)

	return controller
}

// AccountResponse is returned by create and login
type AccountResponse struct {
	Account *Account `json:"account"`
	Token   string   `json:"token,omitempty"`
}

// AccountListResponse is returned by the list route
type AccountListResponse struct {
	Accounts []*Account `json:"accounts"`
	Count    int        `json:"count"`
}

func (a *AccountController) CreateAccount(c *fiber.Ctx) error {
	in := CreateAccountInput{}
	if err := c.BodyParser(&in); err != nil {
		return a.HandleError(c, NewValidationError(err, "unable to parse request body"))
	}

	if a.Debug {
		a.Logger.Debug("create account request", "username", in.Username, "email", in.Email)
	}

	profileImage, err := a.uploadProfileImage(c)
	if err != nil {
		return a.HandleError(c, err)
	}
	in.ProfileImage = profileImage

	account, token, err := a.Service.CreateAccount(c.UserContext(), in)
	if err != nil {
		a.discardProfileImage(c, profileImage)
		return a.HandleError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(AccountResponse{
		Account: account,
		Token:   token,
	})
}

func (a *AccountController) Login(c *fiber.Ctx) error {
	in := LoginInput{}
	if err := c.BodyParser(&in); err != nil {
		return a.HandleError(c, NewValidationError(err, "unable to parse request body"))
	}

	account, token, err := a.Service.Login(c.UserContext(), in)
	if err != nil {
		return a.HandleError(c, err)
	}

	return c.JSON(AccountResponse{
		Account: account,
		Token:   token,
	})
}

func (a *AccountController) ListAccounts(c *fiber.Ctx) error {
	records, err := a.Service.ListActiveAccounts(c.UserContext())
	if err != nil {
		return a.HandleError(c, err)
	}

	return c.JSON(AccountListResponse{
		Accounts: records,
		Count:    len(records),
	})
}

func (a *AccountController) GetAccount(c *fiber.Ctx) error {
	id, err := a.accountID(c)
	if err != nil {
		return a.HandleError(c, err)
	}

	account, err := a.Service.GetAccount(c.UserContext(), id)
	if err != nil {
		return a.HandleError(c, err)
	}

	return c.JSON(AccountResponse{Account: account})
}

func (a *AccountController) UpdateAccount(c *fiber.Ctx) error {
	id, err := a.accountID(c)
	if err != nil {
		return a.HandleError(c, err)
	}

	in := UpdateAccountInput{}
	if err := c.BodyParser(&in); err != nil {
		return a.HandleError(c, NewValidationError(err, "unable to parse request body"))
	}

	profileImage, err := a.uploadProfileImage(c)
	if err != nil {
		return a.HandleError(c, err)
	}
	in.ProfileImage = profileImage

	account, err := a.Service.UpdateAccount(c.UserContext(), id, in)
	if err != nil {
		a.discardProfileImage(c, profileImage)
		return a.HandleError(c, err)
	}

	return c.JSON(AccountResponse{Account: account})
}

func (a *AccountController) DeleteAccount(c *fiber.Ctx) error {
	id, err := a.accountID(c)
	if err != nil {
		return a.HandleError(c, err)
	}

	opts := []TransitionOption{}
	if reason := strings.TrimSpace(c.Query("reason")); reason != "" {
		opts = append(opts, WithTransitionReason(reason))
	}

	meta := map[string]any{}
	if rid := c.Get(fiber.HeaderXRequestID); rid != "" {
		meta["request_id"] = rid
	}
	if ua := c.Get(fiber.HeaderUserAgent); ua != "" {
		meta["user_agent"] = ua
	}
	opts = append(opts, WithTransitionMetadata(meta))

	account, err := a.Service.SoftDeleteAccount(c.UserContext(), id, opts...)
	if err != nil {
		return a.HandleError(c, err)
	}

	return c.JSON(AccountResponse{Account: account})
}

// ProtectedRoute rejects requests without a valid bearer token. The
// validated claims are stored in Locals under ContextKey and in the user
// context.
func (a *AccountController) ProtectedRoute() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := bearerToken(c.Get(fiber.HeaderAuthorization))
		if token == "" {
			return a.HandleError(c, errWithMeta(ErrTokenMalformed, map[string]any{
				"reason": "missing bearer token",
			}))
		}

		claims, err := a.Tokens.Validate(c.UserContext(), token)
		if err != nil {
			return a.HandleError(c, err)
		}

		c.Locals(a.ContextKey, claims)
		c.SetUserContext(WithClaimsContext(c.UserContext(), claims))

		return c.Next()
	}
}

func (a *AccountController) accountID(c *fiber.Ctx) (uuid.UUID, error) {
	raw := c.Params("id")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, NewValidationError(fmt.Errorf("account id must be a uuid"), "invalid account id")
	}
	return id, nil
}

// uploadProfileImage stores the profileImage part of a multipart request
// and returns its path. Requests without a file return an empty path.
func (a *AccountController) uploadProfileImage(c *fiber.Ctx) (string, error) {
	if !strings.HasPrefix(strings.ToLower(c.Get(fiber.HeaderContentType)), fiber.MIMEMultipartForm) {
		return "", nil
	}

	form, err := c.MultipartForm()
	if err != nil {
		return "", NewValidationError(err, "unable to parse multipart form")
	}

	files := form.File["profileImage"]
	if len(files) == 0 {
		return "", nil
	}

	if a.Images == nil {
		return "", NewDependencyFailure(fmt.Errorf("no image service configured"), "unable to upload profile image")
	}

	header := files[0]
	file := ImageFile{
		Filename: header.Filename,
		Size:     header.Size,
		Open: func() (io.ReadCloser, error) {
			return header.Open()
		},
	}

	path, err := a.Images.UploadImage(c.UserContext(), file, a.ImageBucket)
	if err != nil {
		a.Logger.Error("profile image upload failed", "filename", header.Filename, "error", err)
		return "", NewDependencyFailure(err, "unable to upload profile image")
	}

	return path, nil
}

// discardProfileImage removes an upload the service call did not keep
func (a *AccountController) discardProfileImage(c *fiber.Ctx, ref string) {
	if ref == "" || a.Images == nil {
		return
	}
	if err := a.Images.RemoveImage(c.UserContext(), ref); err != nil {
		a.Logger.Warn("unable to remove orphaned profile image", "ref", ref, "error", err)
	}
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func debugPayload(v any) string {
	return print.MaybePrettyJSON(v)
}
