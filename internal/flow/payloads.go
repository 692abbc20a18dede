package flow

import (
	"fmt"

	"github.com/BTreeMap/WhatsFlow/internal/models"
)

// Reply texts.
const (
	welcomeTemplate     = "Hola %s 👋, Bienvenido a *Decolecta*, tu servicio de scraping.\n¿En qué puedo ayudarte hoy?"
	welcomeMenuBody     = "Elige una opción"
	followUpMenuBody    = "¿La respuesta fue de tu ayuda?"
	promptName          = "Por favor ingresa tu nombre:"
	promptPetName       = "Gracias, ahora ¿Cuál es el nombre de tu mascota?"
	promptPetType       = "¿Qué tipo de mascota es? (por ejemplo: perro, gato, huron, etc.)"
	promptReason        = "¿Cuál es el motivo de la consulta?"
	promptQuestion      = "Realizar tu consulta"
	replyVisit          = "Te esperamos en nuestra sucursal"
	replyEmergency      = "Si esto es una emergencia te invitamos a llamar a nuestra linea de atencion"
	replyNotUnderstood  = "Lo siento no entendi tu selección. Por favor elige una de las opciones"
	appointmentTemplate = "Gracias por agendar tu cita.\nResumen de tu cita\n\n" +
		"Nombre: %s\nNombre de la mascota: %s\nTipo de mascota: %s\nMotivo: %s\n\n" +
		"Nos pondremos en contacto contigo pronto para confirmar la fecha y hora de tu cita"
)

var welcomeButtons = []models.Button{
	{ID: models.OptionPrices.ID(), Title: "Precios"},
	{ID: models.OptionToken.ID(), Title: "Token"},
	{ID: models.OptionConsulting.ID(), Title: "Consultoria"},
}

var followUpButtons = []models.Button{
	{ID: models.OptionSatisfied.ID(), Title: "Si, Gracias"},
	{ID: models.OptionAskAgain.ID(), Title: "Hacer otra pregunta"},
	{ID: models.OptionEmergency.ID(), Title: "Emergencia"},
}

var demoMedia = models.Media{
	Type:     models.MediaTypeDocument,
	URL:      "https://s3.amazonaws.com/gndx.dev/medpet-file.pdf",
	Caption:  "¡Esto es un PDF!",
	FileName: "medpet-file.pdf",
}

var branchLocation = models.Location{
	Latitude:  6.2071694,
	Longitude: -75.574607,
	Name:      "Platzi Medellin",
	Address:   "Cra. 43A #5A Medellin",
}

var emergencyContact = models.Contact{
	Name: models.ContactName{
		FormattedName: "MedPet Contacto",
		FirstName:     "MedPet",
		LastName:      "Contacto",
	},
	Org: models.ContactOrg{
		Company:    "MedPet",
		Department: "Atención al Cliente",
		Title:      "Representante",
	},
	Phones: []models.ContactPhone{
		{Phone: "+1234567890", WaID: "1234567890", Type: "WORK"},
	},
	Emails: []models.ContactEmail{
		{Email: "contacto@medpet.com", Type: "WORK"},
	},
	Addresses: []models.ContactAddress{
		{
			Street:      "123 Calle de las Mascotas",
			City:        "Ciudad",
			State:       "Estado",
			Zip:         "12345",
			Country:     "País",
			CountryCode: "PA",
			Type:        "WORK",
		},
	},
	URLs: []models.ContactURL{
		{URL: "https://www.medpet.com", Type: "WORK"},
	},
}

func welcomeText(profile *models.SenderProfile) string {
	return fmt.Sprintf(welcomeTemplate, profile.FirstName())
}

func appointmentSummary(data map[models.DataKey]string) string {
	return fmt.Sprintf(appointmentTemplate,
		data[models.DataKeyName], data[models.DataKeyPetName], data[models.DataKeyPetType], data[models.DataKeyReason])
}
