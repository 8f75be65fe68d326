package v201

const AuthorizeFeatureName = "Authorize"

type IdToken struct {
	IdToken string `json:"idToken" validate:"max=36"`
	Type    string `json:"type" validate:"required"`
}

type IdTokenInfo struct {
	Status string `json:"status" validate:"required"`
}

type AuthorizeRequest struct {
	IdToken IdToken `json:"idToken" validate:"required"`
}

type AuthorizeResponse struct {
	IdTokenInfo IdTokenInfo `json:"idTokenInfo" validate:"required"`
}

func (r *AuthorizeRequest) GetFeatureName() string {
	return AuthorizeFeatureName
}

func (r *AuthorizeResponse) GetFeatureName() string {
	return AuthorizeFeatureName
}
