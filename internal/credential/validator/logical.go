package validator

import (
	"strings"

	"healthcred/internal/credential/models"
)

const baseType = "VerifiableCredential"

// shcWrapperType is carried by every SMART Health Card and says nothing
// about its content.
const shcWrapperType = "https://smarthealth.cards#health-card"

// LogicalType extracts the (id, schemaId, credType) triple for a decoded
// credential. W3C-shaped formats read the type list and credentialSchema;
// SD-JWT and SHC types are URIs whose last segment names the type.
func LogicalType(cred *models.Credential) models.LogicalType {
	lt := models.LogicalType{ID: cred.ID, SchemaID: cred.SchemaRef, CredType: models.CredTypeUnknown}

	switch cred.Format {
	case models.FormatSelfAttested, models.FormatIssuerSigned, models.FormatJWTVC:
		for i := len(cred.Types) - 1; i >= 0; i-- {
			if t := cred.Types[i]; t != "" && t != baseType {
				lt.CredType = t
				break
			}
		}
		if lt.SchemaID == "" {
			if s, ok := cred.Subject["schemaId"].(string); ok {
				lt.SchemaID = s
			}
		}
	case models.FormatSDJWT:
		if len(cred.Types) > 0 {
			lt.SchemaID = cred.Types[0]
			lt.CredType = lastSegment(cred.Types[0], "/:")
		}
	case models.FormatSHC:
		for _, t := range cred.Types {
			if t == shcWrapperType || t == baseType {
				continue
			}
			lt.SchemaID = t
			lt.CredType = lastSegment(t, "#/")
			break
		}
	}
	if lt.CredType == "" {
		lt.CredType = models.CredTypeUnknown
	}
	return lt
}

func lastSegment(s, seps string) string {
	if i := strings.LastIndexAny(s, seps); i >= 0 {
		return s[i+1:]
	}
	return s
}
